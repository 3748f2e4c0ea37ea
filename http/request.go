package http

import (
	"bytes"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Request is assembled incrementally from the bytes read off a connection.
type Request struct {
	PeerAddr net.Addr

	Method   string
	Path     string
	Query    string
	Protocol string

	ContentType      string
	HasContentType   bool
	ContentLength    int
	HasContentLength bool

	// Headers holds every other request header keyed as HTTP_<NAME>.
	Headers map[string]string

	Body     []byte
	Complete bool

	raw         []byte
	headersDone bool
}

func NewRequest(peer net.Addr) *Request {
	return &Request{
		PeerAddr: peer,
		Headers:  make(map[string]string),
	}
}

// Parse feeds the next bytes read from the connection. A partial header block is kept
// until the terminating blank line arrives. Calls after completion are no-ops.
func (req *Request) Parse(data []byte) error {
	if req.Complete {
		return nil
	}

	if req.headersDone {
		req.appendBody(data)
		return nil
	}

	req.raw = append(req.raw, data...)
	end, next := headerEnd(req.raw)
	if end < 0 {
		if len(req.raw) > MaxHeaderBytes {
			return &ParseError{Err: ErrHeaderTooLarge, Detail: strconv.Itoa(len(req.raw)) + " bytes"}
		}
		return nil
	}
	if end > MaxHeaderBytes {
		return &ParseError{Err: ErrHeaderTooLarge, Detail: strconv.Itoa(end) + " bytes"}
	}

	h, err := parseHead(req.raw[:end])
	if err != nil {
		return err
	}

	req.Method = h.method
	req.Path = h.path
	req.Query = h.query
	req.Protocol = h.protocol
	req.ContentType, req.HasContentType = h.contentType, h.hasContentType
	req.ContentLength, req.HasContentLength = h.contentLength, h.hasContentLength
	for name, value := range h.headers {
		req.Headers[name] = value
	}

	rest := req.raw[next:]
	req.raw = nil
	req.headersDone = true
	req.appendBody(rest)
	return nil
}

func (req *Request) appendBody(data []byte) {
	if req.HasContentLength {
		// one request per connection; anything past the declared length is dropped
		if missing := req.ContentLength - len(req.Body); len(data) > missing {
			data = data[:missing]
		}
	}

	req.Body = append(req.Body, data...)
	req.Complete = !req.HasContentLength || len(req.Body) >= req.ContentLength
}

// headerEnd finds the blank line closing the header block. Lines may end in CRLF or a
// bare LF. It returns the length of the block without its final line ending and the
// offset of the first body byte, or -1 while the block is still open.
func headerEnd(raw []byte) (end, next int) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(raw) && raw[j] == '\r' {
			j++
		}
		if j < len(raw) && raw[j] == '\n' {
			end = i
			if end > 0 && raw[end-1] == '\r' {
				end--
			}
			return end, j + 1
		}
	}
	return -1, -1
}

// cutLine splits off the first line, dropping its CRLF or LF ending.
func cutLine(b []byte) (line, rest []byte) {
	line, rest, _ = bytes.Cut(b, lf)
	return bytes.TrimSuffix(line, cr), rest
}

type head struct {
	method   string
	path     string
	query    string
	protocol string

	contentType      string
	hasContentType   bool
	contentLength    int
	hasContentLength bool

	headers map[string]string
}

func parseHead(block []byte) (head, error) {
	var h head

	line, rest := cutLine(block)
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 || !isToken(parts[0]) || parts[1] == "" {
		return h, &ParseError{Err: ErrMalformedRequest, Detail: strconv.Quote(string(line))}
	}
	method, target, version := parts[0], parts[1], parts[2]

	switch version {
	case protocolHttp10, protocolHttp11:
	default:
		return h, &ParseError{Err: ErrUnsupportedVersion, Detail: strconv.Quote(version)}
	}

	decoded, err := url.PathUnescape(target)
	if err != nil || !utf8.ValidString(decoded) {
		return h, &ParseError{Err: ErrInvalidPath, Detail: strconv.Quote(target)}
	}

	h.method = method
	h.protocol = version
	h.path, h.query, _ = strings.Cut(decoded, "?")
	h.headers = make(map[string]string)

	fold := cases.Fold()
	for len(rest) > 0 {
		line, rest = cutLine(rest)

		i := bytes.IndexByte(line, ':')
		if i <= 0 || !isToken(string(line[:i])) {
			return h, &ParseError{Err: ErrMalformedRequest, Detail: strconv.Quote(string(line))}
		}
		name := fold.String(string(line[:i]))
		value := strings.Trim(string(line[i+1:]), " \t")
		if !utf8.ValidString(value) {
			return h, &ParseError{Err: ErrInvalidHeaderEncoding, Detail: name}
		}

		switch name {
		case "content-length":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				h.contentLength, h.hasContentLength = n, true
			}
		case "content-type":
			h.contentType, h.hasContentType = value, true
		default:
			key := cgiKey(name)
			if prev, found := h.headers[key]; found {
				value = prev + "," + value
			}
			h.headers[key] = value
		}
	}

	return h, nil
}

// isToken reports whether s is a non-empty RFC 7230 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
