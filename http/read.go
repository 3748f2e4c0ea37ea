package http

import (
	"errors"
	"io"
	"syscall"
)

// readAvailable drains what the socket has to offer right now. A zero length read or
// EAGAIN ends the attempt, EINTR retries, and any other error still hands back the
// bytes read so far.
func readAvailable(r io.Reader) ([]byte, error) {
	var received []byte
	buf := make([]byte, DefaultReadBufferSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			received = append(received, buf[:n]...)
		}
		if err == nil {
			if n == 0 {
				break
			}
			continue
		}

		switch {
		case wouldBlock(err):
		case interrupted(err):
			continue
		case len(received) > 0:
			return received, nil
		default:
			return nil, err
		}
		break
	}

	if len(received) == 0 {
		return nil, ErrEmptyRead
	}
	return received, nil
}

func wouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

func interrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

func brokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
