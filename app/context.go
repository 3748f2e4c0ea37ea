package app

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	harbor "github.com/freekieb7/harbor/http"
)

// Context is what a handler sees of one call. The handler fills in the status, the
// headers and the body; the router starts the response once the handler returns.
type Context struct {
	Env *harbor.Environ

	// Wildcard is the part of the path matched by a trailing "*" in the route.
	Wildcard string

	Status  int
	Headers []harbor.Header
	Body    harbor.Iterable
}

func newContext(env *harbor.Environ) *Context {
	return &Context{
		Env:    env,
		Status: http.StatusOK,
	}
}

func (ctx *Context) Method() string {
	return ctx.Env.Vars["REQUEST_METHOD"]
}

func (ctx *Context) Path() string {
	return ctx.Env.Vars["PATH_INFO"]
}

func (ctx *Context) WithStatus(status int) {
	ctx.Status = status
}

func (ctx *Context) WithHeader(name, value string) {
	ctx.Headers = append(ctx.Headers, harbor.Header{Name: name, Value: value})
}

func (ctx *Context) WithBytes(contentType string, body []byte) {
	ctx.WithHeader("Content-Type", contentType)
	ctx.WithHeader("Content-Length", strconv.Itoa(len(body)))
	ctx.Body = harbor.NewChunks(body)
}

func (ctx *Context) WithText(text string) {
	ctx.WithBytes("text/plain; charset=utf-8", []byte(text))
}

// WithFile streams file from its current position. The file is closed by the server
// once the response is done.
func (ctx *Context) WithFile(file *os.File, contentType string) error {
	fw, err := ctx.Env.FileWrapper(file, harbor.DefaultBlockSize)
	if err != nil {
		return fmt.Errorf("app: wrap file: %w", err)
	}

	ctx.WithHeader("Content-Type", contentType)
	ctx.WithHeader("Content-Length", strconv.FormatInt(fw.Remaining(), 10))
	ctx.Body = fw
	return nil
}

func (ctx *Context) statusLine() string {
	text := http.StatusText(ctx.Status)
	if text == "" {
		text = "Unknown"
	}
	return strconv.Itoa(ctx.Status) + " " + text
}
