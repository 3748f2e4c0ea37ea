package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
)

type bodyKind uint8

const (
	bodyNone bodyKind = iota
	bodyIterable
	bodyFile
)

// Response turns the application's output into wire bytes, one chunk at a time.
// Once complete it stays complete.
type Response struct {
	start  *StartResponse
	lock   ExecutionLock
	logger *slog.Logger

	body Iterable
	file *FileWrapper
	kind bodyKind

	chunk    []byte
	complete bool
	failed   bool
	closed   bool

	contentLength    int64
	hasContentLength bool
}

func NewResponse(start *StartResponse, lock ExecutionLock, logger *slog.Logger) *Response {
	if lock == nil {
		lock = NoLock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Response{
		start:  start,
		lock:   lock,
		logger: logger,
	}
}

// HandleRequest builds the environment, calls the application and returns the response
// ready to be rendered. Failures before the first byte turn into a 500.
func HandleRequest(app Application, globals Globals, req *Request, lock ExecutionLock, logger *slog.Logger) *Response {
	return HandleRequestContext(context.Background(), app, globals, req, lock, logger)
}

// HandleRequestContext is HandleRequest with ctx made available through Environ.Context.
func HandleRequestContext(ctx context.Context, app Application, globals Globals, req *Request, lock ExecutionLock, logger *slog.Logger) *Response {
	if logger == nil {
		logger = slog.Default()
	}

	var protocol string
	if req != nil {
		protocol = req.Protocol
	}
	resp := NewResponse(NewStartResponse(protocol), lock, logger)

	env, err := NewEnviron(req, globals, logger)
	if err != nil {
		logger.Error("could not build environment", "error", err)
		resp.SetError()
		return resp
	}
	env.ctx = ctx

	body, err := callApplication(app, env, resp.start, resp.lock)
	if err != nil {
		logApplicationError(logger, "application call failed", err, "request_id", env.RequestID)
		resp.body = body
		resp.SetError()
		return resp
	}

	resp.SetBody(body)
	return resp
}

// SetBody decides once whether the body goes out as a file transfer or item by item.
func (resp *Response) SetBody(body Iterable) {
	resp.body = body

	if body == nil {
		resp.logger.Error("application returned no body", "error", ErrNilBody)
		resp.SetError()
		return
	}

	if fw, ok := body.(*FileWrapper); ok && fw.sendable() {
		resp.file = fw
		resp.kind = bodyFile
		return
	}
	resp.kind = bodyIterable
}

// SetError replaces whatever is buffered with the fixed 500 response.
func (resp *Response) SetError() {
	resp.chunk = append(resp.chunk[:0], HTTP500...)
	resp.complete = true
	resp.failed = true
}

func (resp *Response) Complete() bool {
	return resp.complete
}

func (resp *Response) Failed() bool {
	return resp.failed
}

// Chunk is the buffered chunk waiting to be written.
func (resp *Response) Chunk() []byte {
	return resp.chunk
}

// RenderNextChunk fetches the next piece of the body and appends it, preceded by the
// status line and headers on first use, to the chunk buffer. It reports whether more
// data may follow.
func (resp *Response) RenderNextChunk() bool {
	if resp.complete {
		return false
	}

	var data []byte
	switch resp.kind {
	case bodyFile:
		if resp.file.Remaining() == 0 && resp.start.HeadersSent() {
			resp.complete = true
			return false
		}
	case bodyIterable:
		item, err := resp.next()
		if errors.Is(err, io.EOF) {
			resp.finish()
			return false
		}
		if err != nil {
			logApplicationError(resp.logger, "could not fetch next body item", err)
			if !resp.start.HeadersSent() {
				resp.SetError()
			} else {
				resp.flushPending()
				resp.complete = true
			}
			return false
		}
		data = item
	default:
		resp.SetError()
		return false
	}

	if !resp.start.Called() {
		resp.logger.Error("body produced before status", "error", ErrNotStarted)
		resp.SetError()
		return false
	}

	resp.chunk = resp.start.render(resp.chunk, data)

	if resp.kind == bodyFile && !resp.hasContentLength {
		if cl, ok := resp.start.ContentLength(); ok {
			resp.contentLength, resp.hasContentLength = cl, true
			resp.file.limit(cl)
		}
	}

	if resp.start.ContentComplete() {
		resp.logger.Debug("declared content length reached")
		resp.complete = true
		return false
	}
	return true
}

// finish closes an exhausted body. A response that never sent its headers still gets them,
// and direct writes made after the last item still go out.
func (resp *Response) finish() {
	if !resp.start.HeadersSent() {
		if !resp.start.Called() {
			resp.logger.Error("body exhausted before status", "error", ErrNotStarted)
			resp.SetError()
			return
		}
		resp.chunk = resp.start.render(resp.chunk, nil)
	}
	resp.flushPending()
	resp.complete = true
}

func (resp *Response) flushPending() {
	if resp.start.hasPending() {
		resp.chunk = resp.start.render(resp.chunk, nil)
	}
}

func (resp *Response) next() (item []byte, err error) {
	guard := resp.lock.Acquire()
	defer guard.Release()

	defer func() {
		if p := recover(); p != nil {
			item, err = nil, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	return resp.body.Next()
}

// WriteChunk writes the buffered chunk and, for file bodies, moves the file bytes
// straight to w. It reports whether the response is complete.
func (resp *Response) WriteChunk(w io.Writer) (bool, error) {
	n, err := w.Write(resp.chunk)
	if err != nil {
		return resp.complete, err
	}
	if n < len(resp.chunk) {
		resp.logger.Error("chunk not completely written", "written", n, "size", len(resp.chunk))
	}

	if resp.kind == bodyFile && !resp.failed && resp.start.HeadersSent() {
		done, err := resp.file.sendTo(w)
		resp.complete = resp.complete || done
		if err != nil {
			return resp.complete, fmt.Errorf("http: send file: %w", err)
		}
	}

	if !resp.complete {
		resp.chunk = resp.chunk[:0]
	}
	return resp.complete, nil
}

// Close releases the application's body. It runs at most once.
func (resp *Response) Close() {
	if resp.closed {
		return
	}
	resp.closed = true

	closer, ok := resp.body.(io.Closer)
	if !ok {
		return
	}

	guard := resp.lock.Acquire()
	defer guard.Release()

	if err := safeClose(closer); err != nil {
		logApplicationError(resp.logger, "could not close response body", err)
		return
	}
	resp.logger.Debug("response body closed")
}

func safeClose(closer io.Closer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return closer.Close()
}

func logApplicationError(logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		args = append(args, "stack", string(panicErr.Stack))
	}
	logger.Error(msg, args...)
}
