// ABOUTME: Fixed worker pool draining a bounded job queue for store calls
// ABOUTME: Callers block until their job finishes; worker panics become invariant errors

package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("zova-store")

type job struct {
	ctx   context.Context
	stage string
	fn    func(ctx context.Context) error
	done  chan error
}

type workerPool struct {
	jobs    chan job
	group   errgroup.Group
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics
}

func newWorkerPool(workers, queueSize int, logger *slog.Logger, m *metrics) *workerPool {
	p := &workerPool{
		jobs:    make(chan job, queueSize),
		logger:  logger,
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			for j := range p.jobs {
				p.metrics.queueDepth.Dec()
				p.run(j)
			}
			return nil
		})
	}
	return p
}

func (p *workerPool) run(j job) {
	ctx, span := tracer.Start(j.ctx, "store."+j.stage)
	defer span.End()
	started := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("store worker panicked",
				"stage", j.stage,
				"panic", r,
				"stack", string(debug.Stack()))
			err = invariant(j.stage, fmt.Sprintf("worker panic: %v", r))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("store.outcome", outcome(err)))
		p.metrics.observe(j.stage, started, err)
		j.done <- err
	}()
	err = j.fn(ctx)
}

// do queues fn and waits for it. The context bounds admission to the queue
// and is passed to fn; once admitted the job always runs to completion
// before do returns.
func (p *workerPool) do(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, stage: stage, fn: fn, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return &Error{Kind: KindWorker, Stage: stage, Err: ErrClosed}
	}
	p.metrics.queueDepth.Inc()
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.metrics.queueDepth.Dec()
		p.mu.RUnlock()
		return &Error{Kind: KindWorker, Stage: stage, Details: "queue admission", Err: ctx.Err()}
	}

	return <-j.done
}

// close stops admission and waits for queued jobs to drain.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	_ = p.group.Wait()
}

// call runs fn on the store's worker pool and returns its result.
func call[T any](ctx context.Context, s *SQLiteStore, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.pool.do(ctx, stage, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
