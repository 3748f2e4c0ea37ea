package app

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/freekieb7/harbor/app"

type Middleware func(next Handler) Handler

// RecoverMiddleware turns a panicking handler into an error so the server answers 500.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *Context) (err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("handler panicked",
						"panic", recovered,
						"path", ctx.Path(),
						"request_id", ctx.Env.RequestID,
						"stack", string(debug.Stack()))
					err = fmt.Errorf("app: handler panicked: %v", recovered)
				}
			}()

			return next(ctx)
		}
	}
}

// TraceMiddleware opens a span around the handler.
func TraceMiddleware() Middleware {
	tracer := otel.Tracer(instrumentationName)

	return func(next Handler) Handler {
		return func(ctx *Context) error {
			_, span := tracer.Start(ctx.Env.Context(), ctx.Method()+" "+ctx.Path(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("http.request.method", ctx.Method()),
					attribute.String("url.path", ctx.Path()),
					attribute.String("harbor.request_id", ctx.Env.RequestID),
				))
			defer span.End()

			err := next(ctx)
			span.SetAttributes(attribute.Int("http.response.status_code", ctx.Status))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// LogMiddleware writes one line per handled call.
func LogMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *Context) error {
			started := time.Now()
			err := next(ctx)

			attrs := []any{
				"method", ctx.Method(),
				"path", ctx.Path(),
				"status", ctx.Status,
				"duration", time.Since(started),
				"request_id", ctx.Env.RequestID,
			}
			if err != nil {
				logger.Warn("handler failed", append(attrs, "error", err)...)
				return err
			}
			logger.Info("handled", attrs...)
			return nil
		}
	}
}
