package app

import (
	"io"
	"net/http"
	"strings"

	harbor "github.com/freekieb7/harbor/http"
)

type Handler func(ctx *Context) error

type Route struct {
	Methods []string
	Path    string
	Handler Handler
}

var NotFoundHandler Handler = func(ctx *Context) error {
	ctx.WithStatus(http.StatusNotFound)
	ctx.WithText("not found\n")
	return nil
}

// Router is an Application dispatching on method and path. A route path ending in "*"
// matches every path with that prefix.
type Router struct {
	Routes     []Route
	Middleware []Middleware
}

func NewRouter() *Router {
	return &Router{
		Routes: make([]Route, 0),
	}
}

func (router *Router) GET(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodGet, http.MethodHead}, path, handler, middleware...)
}

func (router *Router) POST(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodPost}, path, handler, middleware...)
}

func (router *Router) PUT(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodPut}, path, handler, middleware...)
}

func (router *Router) DELETE(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodDelete}, path, handler, middleware...)
}

func (router *Router) Any(methods []string, path string, handler Handler, middleware ...Middleware) {
	for _, middleware := range middleware {
		handler = middleware(handler)
	}

	router.Routes = append(router.Routes, Route{
		Methods: methods,
		Path:    path,
		Handler: handler,
	})
}

func (router *Router) Group(path string, groupFunc func(group *Router), middlewareList ...Middleware) {
	group := NewRouter()

	groupFunc(group)

	for _, route := range group.Routes {
		route.Path = path + route.Path
		for _, middleware := range middlewareList {
			route.Handler = middleware(route.Handler)
		}

		router.Routes = append(router.Routes, route)
	}
}

func (router *Router) match(method, path string) (Handler, string) {
	for _, route := range router.Routes {
		wildcard, ok := matchPath(route.Path, path)
		if !ok {
			continue
		}

		for _, m := range route.Methods {
			if m == method {
				return route.Handler, wildcard
			}
		}
	}
	return NotFoundHandler, ""
}

func matchPath(pattern, path string) (string, bool) {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		if rest, found := strings.CutPrefix(path, prefix); found {
			return rest, true
		}
		return "", false
	}
	return "", pattern == path
}

// Call runs the matching handler and starts the response with whatever it declared.
// A handler error is handed back to the server, which answers with a 500.
func (router *Router) Call(env *harbor.Environ, start *harbor.StartResponse) (harbor.Iterable, error) {
	ctx := newContext(env)

	handler, wildcard := router.match(ctx.Method(), ctx.Path())
	ctx.Wildcard = wildcard
	for _, middleware := range router.Middleware {
		handler = middleware(handler)
	}

	if err := handler(ctx); err != nil {
		if closer, ok := ctx.Body.(io.Closer); ok {
			closer.Close()
		}
		return nil, err
	}

	if _, err := start.Start(ctx.statusLine(), ctx.Headers, nil); err != nil {
		return nil, err
	}

	if ctx.Body == nil || ctx.Method() == http.MethodHead {
		if closer, ok := ctx.Body.(io.Closer); ok {
			closer.Close()
		}
		return harbor.NewChunks(), nil
	}
	return ctx.Body, nil
}
