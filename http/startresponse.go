package http

import (
	"strconv"
	"strings"
)

type Header struct {
	Name  string
	Value string
}

// StartResponse is handed to the application to declare the status line and headers.
// The headers are written exactly once, in front of the first body bytes.
type StartResponse struct {
	protocol string
	status   string
	headers  []Header

	called      bool
	headersSent bool

	contentLength    int64
	hasContentLength bool
	written          int64

	pending []byte
}

func NewStartResponse(protocol string) *StartResponse {
	if protocol == "" {
		protocol = protocolHttp11
	}
	return &StartResponse{protocol: protocol}
}

// Start records status and headers. Once the headers went out, a later call is only
// allowed with excInfo set, and then excInfo is handed back so the application sees
// its own failure again.
func (sr *StartResponse) Start(status string, headers []Header, excInfo error) (*ResponseWriter, error) {
	if sr.called {
		if excInfo == nil {
			return nil, ErrAlreadyStarted
		}
		if sr.headersSent {
			return nil, excInfo
		}
	}

	if !validStatus(status) {
		return nil, ErrInvalidStatus
	}
	for _, header := range headers {
		if !isToken(header.Name) || strings.ContainsAny(header.Value, "\r\n") {
			return nil, ErrInvalidHeader
		}
	}

	sr.status = status
	sr.headers = append(sr.headers[:0], headers...)
	sr.contentLength, sr.hasContentLength = 0, false
	for _, header := range headers {
		if !strings.EqualFold(header.Name, "content-length") {
			continue
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(header.Value), 10, 64); err == nil && n >= 0 {
			sr.contentLength, sr.hasContentLength = n, true
		}
	}
	sr.called = true

	return &ResponseWriter{start: sr}, nil
}

func (sr *StartResponse) Called() bool {
	return sr.called
}

func (sr *StartResponse) HeadersSent() bool {
	return sr.headersSent
}

func (sr *StartResponse) Status() string {
	return sr.status
}

// ContentLength is the length the application declared, if any.
func (sr *StartResponse) ContentLength() (int64, bool) {
	return sr.contentLength, sr.hasContentLength
}

// ContentComplete reports whether the declared content length has been written.
func (sr *StartResponse) ContentComplete() bool {
	return sr.hasContentLength && sr.written >= sr.contentLength
}

// render appends the headers (first call only), any direct writes and body to out.
// Bytes past the declared content length are dropped.
func (sr *StartResponse) render(out []byte, body []byte) []byte {
	if !sr.headersSent {
		out = append(out, sr.protocol...)
		out = append(out, ' ')
		out = append(out, sr.status...)
		out = append(out, crlf...)
		for _, header := range sr.headers {
			out = append(out, header.Name...)
			out = append(out, ": "...)
			out = append(out, header.Value...)
			out = append(out, crlf...)
		}
		out = append(out, crlf...)
		sr.headersSent = true
	}

	if len(sr.pending) > 0 {
		out = sr.appendBody(out, sr.pending)
		sr.pending = sr.pending[:0]
	}
	return sr.appendBody(out, body)
}

func (sr *StartResponse) hasPending() bool {
	return len(sr.pending) > 0
}

func (sr *StartResponse) appendBody(out []byte, body []byte) []byte {
	if sr.hasContentLength {
		if left := sr.contentLength - sr.written; int64(len(body)) > left {
			body = body[:left]
		}
	}
	sr.written += int64(len(body))
	return append(out, body...)
}

// ResponseWriter lets the application write body bytes directly. They are sent ahead of
// the next item of the returned body, or after the last one once the body is exhausted.
type ResponseWriter struct {
	start *StartResponse
}

func (w *ResponseWriter) Write(p []byte) (int, error) {
	w.start.pending = append(w.start.pending, p...)
	return len(p), nil
}

func validStatus(status string) bool {
	if len(status) < 4 || status[3] != ' ' {
		return false
	}
	for i := 0; i < 3; i++ {
		if status[i] < '0' || status[i] > '9' {
			return false
		}
	}
	return !strings.ContainsAny(status, "\r\n")
}
