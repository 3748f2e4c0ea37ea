package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Globals are the server-wide values copied into every environment.
type Globals struct {
	ServerName string
	ServerPort string
	ScriptName string
}

func NewGlobals(addr string, scriptName string) (Globals, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Globals{}, fmt.Errorf("http: invalid listen address %q: %w", addr, err)
	}

	return Globals{
		ServerName: host,
		ServerPort: port,
		ScriptName: strings.TrimSuffix(scriptName, "/"),
	}, nil
}

// Environ is what the application sees of a request.
type Environ struct {
	// Vars holds the CGI style variables (REQUEST_METHOD, PATH_INFO, HTTP_*, ...).
	Vars map[string]string

	Input  io.Reader
	Errors io.Writer

	Version      [2]int
	URLScheme    string
	Multithread  bool
	Multiprocess bool
	RunOnce      bool

	// FileWrapper wraps an open file so that the server can hand it to sendfile(2).
	FileWrapper func(file *os.File, blockSize int) (*FileWrapper, error)

	RequestID string

	ctx context.Context
}

// Context carries the span of the request being served.
func (env *Environ) Context() context.Context {
	if env.ctx == nil {
		return context.Background()
	}
	return env.ctx
}

func (env *Environ) Get(key string) (string, bool) {
	value, found := env.Vars[key]
	return value, found
}

func NewEnviron(req *Request, globals Globals, logger *slog.Logger) (*Environ, error) {
	if req == nil || !req.Complete {
		return nil, ErrIncompleteRequest
	}
	if logger == nil {
		logger = slog.Default()
	}

	vars := make(map[string]string, len(req.Headers)+12)
	for key, value := range req.Headers {
		vars[key] = value
	}

	vars["REQUEST_METHOD"] = req.Method
	vars["PATH_INFO"] = req.Path
	vars["QUERY_STRING"] = req.Query
	vars["SERVER_PROTOCOL"] = req.Protocol
	vars["SERVER_NAME"] = globals.ServerName
	vars["SERVER_PORT"] = globals.ServerPort
	vars["SCRIPT_NAME"] = globals.ScriptName
	vars["REMOTE_ADDR"] = ""
	if req.PeerAddr != nil {
		vars["REMOTE_ADDR"] = hostOf(req.PeerAddr)
	}
	if len(req.Body) > 0 {
		vars["CONTENT_LENGTH"] = strconv.Itoa(len(req.Body))
	}
	if req.HasContentType {
		vars["CONTENT_TYPE"] = req.ContentType
	}

	requestID := uuid.NewString()

	return &Environ{
		Vars:        vars,
		Input:       bytes.NewReader(req.Body),
		Errors:      &errorStream{logger: logger.With("request_id", requestID)},
		Version:     [2]int{1, 0},
		URLScheme:   "http",
		Multithread: true,
		FileWrapper: NewFileWrapper,
		RequestID:   requestID,
	}, nil
}

func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// errorStream forwards whatever the application writes to its error output into the log.
type errorStream struct {
	logger *slog.Logger
}

func (stream *errorStream) Write(p []byte) (int, error) {
	if msg := strings.TrimRight(string(p), "\r\n"); msg != "" {
		stream.logger.Error(msg, "source", "application")
	}
	return len(p), nil
}
