//go:build linux

package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

const (
	pollTimeout    = 100 * time.Millisecond
	eventsCapacity = 1024
	listenBacklog  = unix.SOMAXCONN
)

type Config struct {
	Addr       string
	ScriptName string
	Workers    int
	QueueSize  int
	Lock       ExecutionLock
	Logger     *slog.Logger

	// ListenTimeout bounds how long NewServer retries while the address is in use.
	ListenTimeout time.Duration
}

// Server is the reactor: one goroutine, locked to its thread, that accepts connections,
// reads them without blocking and hands complete requests to the worker pool.
type Server struct {
	Name string

	logger  *slog.Logger
	metrics *instruments
	workers *WorkerPool

	listener int
	addr     net.Addr
	poller   *poller

	connections    map[Token]*conn
	requests       map[Token]*Request
	errorResponses map[Token]struct{}
	currentToken   Token
}

func NewServer(ctx context.Context, name string, app Application, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("server", name)

	fd, addr, err := listenWithRetry(ctx, cfg.Addr, cfg.ListenTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("http: listen on %s: %w", cfg.Addr, err)
	}

	p, err := newPoller(eventsCapacity)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := p.register(fd, listenerToken, interestReadable); err != nil {
		p.Close()
		unix.Close(fd)
		return nil, err
	}

	globals, err := NewGlobals(addr.String(), cfg.ScriptName)
	if err != nil {
		p.Close()
		unix.Close(fd)
		return nil, err
	}

	metrics := newInstruments()
	workers := newWorkerPool(PoolConfig{
		App:       app,
		Globals:   globals,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Lock:      cfg.Lock,
		Logger:    logger,
	}, metrics)

	return &Server{
		Name:           name,
		logger:         logger,
		metrics:        metrics,
		workers:        workers,
		listener:       fd,
		addr:           addr,
		poller:         p,
		connections:    make(map[Token]*conn),
		requests:       make(map[Token]*Request),
		errorResponses: make(map[Token]struct{}),
		currentToken:   listenerToken + 1,
	}, nil
}

// listenWithRetry keeps trying while the address is still held by a previous process.
func listenWithRetry(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (int, net.Addr, error) {
	var (
		fd    int
		local net.Addr
	)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout

	err := backoff.RetryNotify(func() error {
		var err error
		fd, local, err = listen(addr, listenBacklog)
		if errors.Is(err, syscall.EADDRINUSE) && timeout > 0 {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("address in use, retrying", "addr", addr, "wait", wait, "error", err)
	})
	return fd, local, err
}

func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) Stats() Stats {
	stats := s.metrics.snapshot()
	stats.Queued = int64(s.workers.Queued())
	stats.Workers = int64(s.workers.Size())
	return stats
}

// Serve runs the reactor until ctx is done or the poller fails. Either way the worker
// pool is drained before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.close()

	s.logger.Info("serving", "addr", s.addr.String(), "workers", s.workers.Size())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			s.workers.Join()
			return nil
		default:
		}

		if err := s.pollOnce(); err != nil {
			s.logger.Error("error processing poll events", "error", err)
			s.workers.Join()
			return err
		}
	}
}

func (s *Server) pollOnce() error {
	events, err := s.poller.wait(pollTimeout)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.token == listenerToken {
			if err := s.acceptAll(); err != nil {
				return err
			}
			continue
		}

		if _, marked := s.errorResponses[ev.token]; marked {
			if ev.writable {
				s.writeErrorResponse(ev.token)
			}
			continue
		}

		if ev.readable {
			if err := s.onReadable(ev.token); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) nextToken() Token {
	token := s.currentToken
	s.currentToken++
	return token
}

func (s *Server) acceptAll() error {
	for {
		fd, sa, err := unix.Accept4(s.listener, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case wouldBlock(err):
				return nil
			case interrupted(err), errors.Is(err, unix.ECONNABORTED):
				continue
			}
			s.logger.Warn("accept failed", "error", err)
			return nil
		}

		token := s.nextToken()
		c := newConn(fd, token, sockaddrToAddr(sa))
		if err := s.poller.register(fd, token, interestReadable); err != nil {
			c.Close()
			return err
		}
		s.connections[token] = c
		s.metrics.connectionAccepted()
		s.logger.Debug("connection accepted", "token", uint64(token))
	}
}

func (s *Server) onReadable(token Token) error {
	c, found := s.connections[token]
	if !found {
		s.logger.Error("no such connection", "token", uint64(token))
		return nil
	}

	data, err := readAvailable(c)
	if err != nil {
		s.logger.Debug("connection abandoned", "token", uint64(token), "error", err)
		s.forget(token, c)
		return nil
	}

	req, found := s.requests[token]
	if !found {
		req = NewRequest(c.RemoteAddr())
		s.requests[token] = req
	}

	if err := req.Parse(data); err != nil {
		s.logger.Error("could not parse request", "token", uint64(token), "error", err)
		s.metrics.parseError()
		s.errorResponses[token] = struct{}{}
		return s.poller.reregister(c.fd, token, interestWritable)
	}

	if req.Complete {
		return s.handoff(token, c, req)
	}
	return nil
}

// handoff moves the connection to a worker. After this the reactor holds no reference
// to the token.
func (s *Server) handoff(token Token, c *conn, req *Request) error {
	delete(s.requests, token)
	delete(s.connections, token)

	if err := s.poller.deregister(c.fd); err != nil {
		c.Close()
		s.metrics.connectionReleased()
		return err
	}
	if err := c.SetBlocking(true); err != nil {
		s.logger.Warn("could not switch connection to blocking mode", "token", uint64(token), "error", err)
		c.Close()
		s.metrics.connectionReleased()
		return nil
	}

	err := s.workers.Dispatch(Envelope{Token: token, Request: req, Conn: c})
	switch {
	case err == nil:
		s.metrics.requestDispatched()
		return nil
	case errors.Is(err, ErrQueueFull):
		s.logger.Warn("dispatch queue full, rejecting request", "token", uint64(token))
		s.metrics.requestRejected("queue_full")
		if _, err := c.Write(HTTP503); err != nil {
			s.logger.Debug("could not write 503", "token", uint64(token), "error", err)
		}
	default:
		s.logger.Error("could not relay request to worker", "token", uint64(token), "error", err)
		s.metrics.requestRejected("pool_closed")
	}
	c.Close()
	s.metrics.connectionReleased()
	return nil
}

func (s *Server) writeErrorResponse(token Token) {
	c, found := s.connections[token]
	if !found {
		s.logger.Error("writable: no such connection", "token", uint64(token))
		delete(s.errorResponses, token)
		return
	}

	if _, err := c.Write(HTTP500); err != nil {
		s.logger.Warn("could not write error response", "token", uint64(token), "error", err)
	}
	s.forget(token, c)
}

// forget closes a connection the reactor still owns and drops every trace of it.
// Closing the descriptor removes it from the epoll set.
func (s *Server) forget(token Token, c *conn) {
	delete(s.connections, token)
	delete(s.requests, token)
	delete(s.errorResponses, token)
	if err := c.Close(); err != nil {
		s.logger.Debug("could not close connection", "token", uint64(token), "error", err)
	}
	s.metrics.connectionReleased()
}

func (s *Server) close() {
	for token, c := range s.connections {
		s.forget(token, c)
	}
	if err := s.poller.Close(); err != nil {
		s.logger.Debug("could not close poller", "error", err)
	}
	if err := unix.Close(s.listener); err != nil {
		s.logger.Debug("could not close listener", "error", err)
	}
}
