// Package engine drives task submissions to registered backends: it holds a
// named registry of backends, hands out one-shot reply channels at submit
// time, and drives every pending dispatch concurrently to completion.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/task"
	"github.com/crankshaft-oss/crankshaft/telemetry"
)

// Handle is the submitter-side view of a pending dispatch: Reply resolves
// exactly once, when the backend sends its backend.Reply.
type Handle struct {
	Reply <-chan backend.Reply
}

// Engine holds an insertion-ordered registry of named backends and drives
// every task submitted to them concurrently to completion.
type Engine struct {
	mu       sync.Mutex
	order    []string
	backends map[string]backend.Backend
	pending  []pendingDispatch

	metrics telemetry.Metrics
	logger  telemetry.Logger
}

type pendingDispatch struct {
	backendName string
	task        task.Task
	forward     chan backend.Reply
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMetrics overrides the engine's Metrics sink. The default is telemetry.NoopMetrics.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the engine's Logger. The default is telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine with no registered backends.
func New(opts ...Option) *Engine {
	e := &Engine{
		backends: make(map[string]backend.Backend),
		metrics:  telemetry.NewNoopMetrics(),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithBackend registers b under name, overwriting any existing registration
// sharing that name. Returns the Engine for chaining.
func (e *Engine) WithBackend(name string, b backend.Backend) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.backends[name]; !exists {
		e.order = append(e.order, name)
	}
	e.backends[name] = b
	return e
}

// Submit looks up the backend registered under name and arranges for t to
// be dispatched to it once Run is called. Submit performs no I/O; it panics
// if name was never registered, since submitting to an unregistered backend
// is a programmer error, not a runtime condition a caller should need to
// check for.
func (e *Engine) Submit(name string, t task.Task) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.backends[name]; !ok {
		panic(fmt.Errorf("%w: %s", backend.ErrBackendNotFound, name))
	}

	e.pending = append(e.pending, pendingDispatch{backendName: name, task: t})

	// Run (below) resolves this entry's reply channel lazily; the Handle
	// returned here is backed by a forwarding channel created now so the
	// caller can start waiting on it immediately.
	forward := backend.NewReplyChannel()
	e.pending[len(e.pending)-1].forward = forward
	return &Handle{Reply: forward}
}

// Run drains every pending submission, dispatches each to its backend
// concurrently, and blocks until all have completed. Each completed dispatch
// increments a gauge exposed through the engine's Metrics sink. Canceling ctx
// propagates to every in-flight backend.Run call.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	var wg sync.WaitGroup
	var completed int64
	var completedMu sync.Mutex

	for _, p := range pending {
		wg.Add(1)
		go func(p pendingDispatch) {
			defer wg.Done()

			e.mu.Lock()
			b := e.backends[p.backendName]
			e.mu.Unlock()

			ch := b.Run(ctx, p.backendName, p.task)
			reply := <-ch

			backend.Send(p.forward, reply)

			completedMu.Lock()
			completed++
			n := completed
			completedMu.Unlock()

			e.metrics.RecordGauge("crankshaft.engine.completed", float64(n))
		}(p)
	}

	wg.Wait()
}
