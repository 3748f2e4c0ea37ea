package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

func HelloHandler(ctx *Context) error {
	ctx.WithText("Hello world!\n")
	return nil
}

// EchoHandler answers with the request body and its content type.
func EchoHandler(ctx *Context) error {
	body, err := io.ReadAll(ctx.Env.Input)
	if err != nil {
		return fmt.Errorf("app: read body: %w", err)
	}

	contentType, ok := ctx.Env.Get("CONTENT_TYPE")
	if !ok {
		contentType = "application/octet-stream"
	}
	ctx.WithBytes(contentType, body)
	return nil
}

// StaticHandler serves regular files below docroot. The file goes out through the
// zero-copy path.
func StaticHandler(docroot string) Handler {
	return func(ctx *Context) error {
		name := path.Clean("/" + ctx.Wildcard)
		if name == "/" {
			return NotFoundHandler(ctx)
		}

		file, err := os.Open(filepath.Join(docroot, filepath.FromSlash(name)))
		if errors.Is(err, fs.ErrNotExist) {
			return NotFoundHandler(ctx)
		}
		if err != nil {
			return fmt.Errorf("app: open %s: %w", name, err)
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return fmt.Errorf("app: stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			file.Close()
			return NotFoundHandler(ctx)
		}

		contentType := mime.TypeByExtension(filepath.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		if err := ctx.WithFile(file, contentType); err != nil {
			file.Close()
			return err
		}
		ctx.WithStatus(http.StatusOK)
		return nil
	}
}
