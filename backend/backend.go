// Package backend defines the uniform dispatch contract implemented by each
// concrete execution runtime (container, remote service, generic shell
// scheduler) and the wire types they all produce.
package backend

import (
	"context"
	"errors"

	"github.com/crankshaft-oss/crankshaft/task"
)

// ErrBackendNotFound is wrapped with the offending name when a submission
// names a backend that was never registered with the engine. It signals a
// programmer error and is never returned to a caller; see engine.Engine.Submit.
var ErrBackendNotFound = errors.New("crankshaft: backend not registered")

// ErrUnsupportedScheme is wrapped with the offending scheme when an Input's
// contents use a URL scheme no fetcher understands.
var ErrUnsupportedScheme = errors.New("crankshaft: unsupported input scheme")

// Backend is the uniform async dispatch contract implemented by every
// concrete execution runtime. Run performs every execution of t in
// declaration order and returns a channel that carries exactly one Reply,
// sent after the last execution completes or the task aborts. The backend
// object is free to accept more submissions as soon as Run returns; all I/O
// happens on the goroutine Run starts internally, not on the caller's
// goroutine.
type Backend interface {
	// DefaultName returns a suggested registry key for this backend.
	DefaultName() string

	// Run dispatches t under backendName and returns the one-shot reply
	// channel. Canceling ctx is a best-effort signal to abandon the task;
	// implementations must still send exactly one Reply (possibly
	// reflecting a partial result) before the returned channel is closed
	// by garbage collection.
	Run(ctx context.Context, backendName string, t task.Task) <-chan Reply
}

// Reply is the terminal message a backend sends once a Task's dispatch
// future has run to completion, successfully or not.
type Reply struct {
	BackendName string
	Executions  []ExecutionResult
}

// ExecutionResult is the outcome of a single Execution. Status is a 64-bit
// signed exit code; -1 means the exit code was never observed.
type ExecutionResult struct {
	Status int64
	Stdout string
	Stderr string
}

// NewReplyChannel returns a one-shot channel for a single buffered Reply, the
// Go analogue of the "one-shot sender/receiver pair" each backend's Run
// returns the receiving half of.
func NewReplyChannel() chan Reply {
	return make(chan Reply, 1)
}

// Send delivers reply on ch without blocking: ch's single buffered slot holds
// the reply whether or not anyone ever reads it, and if that slot is already
// full the reply is silently discarded, so a dropped receiver never blocks or
// panics the sender (invariant 7).
func Send(ch chan Reply, reply Reply) {
	select {
	case ch <- reply:
	default:
	}
}
