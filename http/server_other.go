//go:build !linux

package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

var errUnsupportedPlatform = errors.New("http: the epoll reactor is only available on linux")

type Config struct {
	Addr       string
	ScriptName string
	Workers    int
	QueueSize  int
	Lock       ExecutionLock
	Logger     *slog.Logger

	ListenTimeout time.Duration
}

type Server struct {
	Name string
}

func NewServer(ctx context.Context, name string, app Application, cfg Config) (*Server, error) {
	return nil, errUnsupportedPlatform
}

func (s *Server) Addr() net.Addr {
	return nil
}

func (s *Server) Stats() Stats {
	return Stats{}
}

func (s *Server) Serve(ctx context.Context) error {
	return errUnsupportedPlatform
}
