//go:build linux

package http

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// conn is a raw socket. While the reactor owns it the descriptor is non-blocking;
// SetBlocking(true) is called once when it moves to a worker.
type conn struct {
	fd       int
	token    Token
	peer     net.Addr
	blocking bool
	closed   bool
}

func newConn(fd int, token Token, peer net.Addr) *conn {
	return &conn{fd: fd, token: token, peer: peer}
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write keeps going until p is written or an error other than EINTR occurs.
func (c *conn) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			if interrupted(err) {
				continue
			}
			return written, err
		}
		if n == 0 {
			return written, unix.EPIPE
		}
	}
	return written, nil
}

// SendFile transfers up to count bytes of file, starting at offset, with sendfile(2).
func (c *conn) SendFile(file *os.File, offset int64, count int64) (int64, error) {
	const maxSendfileSize = 0x7ffff000

	if count > maxSendfileSize {
		count = maxSendfileSize
	}
	off := offset
	n, err := unix.Sendfile(c.fd, int(file.Fd()), &off, int(count))
	if n < 0 {
		n = 0
	}
	return int64(n), err
}

func (c *conn) SetBlocking(blocking bool) error {
	if err := unix.SetNonblock(c.fd, !blocking); err != nil {
		return err
	}
	c.blocking = blocking
	return nil
}

func (c *conn) RemoteAddr() net.Addr {
	return c.peer
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), Port: addr.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port}
	}
	return nil
}

// listen opens a non-blocking listening socket bound to addr.
func listen(addr string, backlog int) (int, net.Addr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, err
	}

	family := unix.AF_INET6
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		family = unix.AF_INET
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("listen", err)
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("getsockname", err)
	}
	return fd, sockaddrToAddr(local), nil
}
