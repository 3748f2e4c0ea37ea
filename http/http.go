package http

import "errors"

const (
	DefaultReadBufferSize = 16 * 1024
	DefaultQueueSize      = 2000 // dispatch queue capacity
	MaxHeaderBytes        = 64 * 1024
)

// Token identifies a connection while the reactor owns it. Token 0 is the listener.
type Token uint64

const listenerToken Token = 0

var (
	protocolHttp10 = "HTTP/1.0"
	protocolHttp11 = "HTTP/1.1"

	// Pre-computed complete responses
	HTTP500 = []byte("HTTP/1.1 500 Internal Server Error\r\n\r\n")
	HTTP503 = []byte("HTTP/1.1 503 Service Unavailable\r\n\r\n")

	crlf = []byte("\r\n")
	cr   = []byte("\r")
	lf   = []byte("\n")
)

var (
	ErrMalformedRequest      = errors.New("http: malformed request")
	ErrUnsupportedVersion    = errors.New("http: unsupported protocol version")
	ErrInvalidHeaderEncoding = errors.New("http: header value is not valid utf-8")
	ErrInvalidPath           = errors.New("http: path could not be decoded")
	ErrHeaderTooLarge        = errors.New("http: header block too large")
	ErrIncompleteRequest     = errors.New("http: request is not complete")
	ErrEmptyRead             = errors.New("http: empty read")
	ErrQueueFull             = errors.New("http: dispatch queue is full")
	ErrPoolClosed            = errors.New("http: worker pool is closed")
	ErrAlreadyStarted        = errors.New("http: start response already called")
	ErrInvalidStatus         = errors.New("http: invalid status line")
	ErrInvalidHeader         = errors.New("http: invalid response header")
	ErrNilBody               = errors.New("http: application returned no body")
	ErrNotStarted            = errors.New("http: application did not start the response")
)

// ParseError reports why a request could not be assembled.
type ParseError struct {
	Err    error
	Detail string
}

func (err *ParseError) Error() string {
	if err.Detail == "" {
		return err.Err.Error()
	}
	return err.Err.Error() + ": " + err.Detail
}

func (err *ParseError) Unwrap() error {
	return err.Err
}
