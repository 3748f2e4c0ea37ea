// Package app is the demo application hosted by the harbor binary.
package app

import (
	"log/slog"
)

type Options struct {
	// Docroot enables /static/ when set.
	Docroot string
	Logger  *slog.Logger
}

func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := NewRouter()
	router.Middleware = append(router.Middleware, RecoverMiddleware(logger), TraceMiddleware(), LogMiddleware(logger))

	router.GET("/", HelloHandler)
	router.POST("/echo", EchoHandler)
	if opts.Docroot != "" {
		router.Group("/static", func(group *Router) {
			group.GET("/*", StaticHandler(opts.Docroot))
		})
	}

	return router
}
