package http

//go:generate mockgen -source=worker.go -destination=mock_worker_test.go -package=http

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Conn is what a worker owns after the handoff from the reactor.
type Conn interface {
	Write(p []byte) (int, error)
	Close() error
	SetBlocking(blocking bool) error
}

// Envelope carries a completed request and the connection it arrived on. An envelope
// without a request tells the receiving worker to stop.
type Envelope struct {
	Token   Token
	Request *Request
	Conn    Conn
}

type PoolConfig struct {
	App       Application
	Globals   Globals
	Workers   int
	QueueSize int
	Lock      ExecutionLock
	Logger    *slog.Logger
}

// WorkerPool runs a fixed number of workers competing for envelopes on one queue.
type WorkerPool struct {
	app     Application
	globals Globals
	lock    ExecutionLock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instruments

	queue chan Envelope
	size  int
	alive atomic.Int64

	wg     sync.WaitGroup
	mu     sync.Mutex
	joined bool
}

func NewWorkerPool(cfg PoolConfig) *WorkerPool {
	return newWorkerPool(cfg, newInstruments())
}

func newWorkerPool(cfg PoolConfig, metrics *instruments) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Lock == nil {
		cfg.Lock = GlobalLock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wp := &WorkerPool{
		app:     cfg.App,
		globals: cfg.Globals,
		lock:    cfg.Lock,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: metrics,
		queue:   make(chan Envelope, cfg.QueueSize),
		size:    cfg.Workers,
	}

	wp.alive.Store(int64(cfg.Workers))
	wp.wg.Add(cfg.Workers)
	for id := 0; id < cfg.Workers; id++ {
		go wp.work(id)
	}
	return wp
}

// Dispatch hands the envelope to whichever worker is free first. It never blocks.
func (wp *WorkerPool) Dispatch(env Envelope) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.joined || wp.alive.Load() == 0 {
		return ErrPoolClosed
	}

	select {
	case wp.queue <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Join sends one stop marker per worker, behind whatever is already queued, and waits
// for all of them to exit.
func (wp *WorkerPool) Join() {
	wp.mu.Lock()
	if wp.joined {
		wp.mu.Unlock()
		wp.wg.Wait()
		return
	}
	wp.joined = true
	wp.mu.Unlock()

	for i := 0; i < wp.size; i++ {
		wp.queue <- Envelope{}
	}
	wp.wg.Wait()
}

func (wp *WorkerPool) Size() int {
	return wp.size
}

func (wp *WorkerPool) Queued() int {
	return len(wp.queue)
}

func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()
	defer wp.alive.Add(-1)

	logger := wp.logger.With("worker", id)
	for env := range wp.queue {
		if env.Request == nil {
			logger.Debug("worker stopping")
			return
		}
		wp.serve(logger, env)
	}
}

func (wp *WorkerPool) serve(logger *slog.Logger, env Envelope) {
	req := env.Request
	logger = logger.With("token", uint64(env.Token))

	parent := otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier(req.Headers))
	ctx, span := wp.tracer.Start(parent, "harbor.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("network.protocol.version", req.Protocol),
			attribute.Int64("harbor.token", int64(env.Token)),
		))
	defer span.End()

	started := time.Now()
	wp.metrics.requestStarted(ctx)

	failed := true
	defer func() {
		if p := recover(); p != nil {
			logger.Error("worker recovered from panic", "panic", p, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
		}
		if err := env.Conn.Close(); err != nil {
			logger.Debug("could not close connection", "error", err)
		}
		wp.metrics.connectionReleased()
		wp.metrics.requestFinished(ctx, started, failed)
	}()

	resp := HandleRequestContext(ctx, wp.app, wp.globals, req, wp.lock, logger)
	defer resp.Close()

	var writeErr error
	for {
		resp.RenderNextChunk()
		complete, err := resp.WriteChunk(env.Conn)
		if err != nil {
			writeErr = err
			break
		}
		if complete {
			break
		}
	}

	switch {
	case writeErr != nil && brokenPipe(writeErr):
		logger.Debug("client went away", "error", writeErr)
	case writeErr != nil:
		logger.Warn("could not write response", "error", writeErr)
	}

	failed = writeErr != nil || resp.Failed()
	if status := resp.start.Status(); status != "" && !resp.Failed() {
		span.SetAttributes(attribute.String("http.response.status", status))
	}
	if failed {
		span.SetStatus(codes.Error, "response failed")
	}
}
