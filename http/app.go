package http

//go:generate mockgen -source=app.go -destination=mock_app_test.go -package=http

import (
	"fmt"
	"io"
	"runtime/debug"
)

// Application is the hosted request handler. It declares status and headers through
// start and returns the body to stream.
type Application interface {
	Call(env *Environ, start *StartResponse) (Iterable, error)
}

type ApplicationFunc func(env *Environ, start *StartResponse) (Iterable, error)

func (fn ApplicationFunc) Call(env *Environ, start *StartResponse) (Iterable, error) {
	return fn(env, start)
}

// Iterable produces the body one chunk at a time. Next returns io.EOF once exhausted.
// A body that also implements io.Closer is closed exactly once after the response.
type Iterable interface {
	Next() ([]byte, error)
}

// IterableFunc adapts a generator function.
type IterableFunc func() ([]byte, error)

func (fn IterableFunc) Next() ([]byte, error) {
	return fn()
}

type chunks struct {
	items [][]byte
	pos   int
}

// NewChunks returns an Iterable over fixed chunks.
func NewChunks(items ...[]byte) Iterable {
	return &chunks{items: items}
}

func (c *chunks) Next() ([]byte, error) {
	if c.pos >= len(c.items) {
		return nil, io.EOF
	}
	item := c.items[c.pos]
	c.pos++
	return item, nil
}

// PanicError is returned in place of a panic raised by application code.
type PanicError struct {
	Value any
	Stack []byte
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("http: application panic: %v", err.Value)
}

func callApplication(app Application, env *Environ, start *StartResponse, lock ExecutionLock) (body Iterable, err error) {
	guard := lock.Acquire()
	defer guard.Release()

	defer func() {
		if p := recover(); p != nil {
			body, err = nil, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	return app.Call(env, start)
}
