package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/task"
)

// fakeBackend replies immediately with one ExecutionResult per execution in
// the submitted task, at status 0.
type fakeBackend struct {
	name string
}

func (f *fakeBackend) DefaultName() string { return f.name }

func (f *fakeBackend) Run(ctx context.Context, backendName string, t task.Task) <-chan backend.Reply {
	ch := backend.NewReplyChannel()
	go func() {
		results := make([]backend.ExecutionResult, len(t.Executions()))
		backend.Send(ch, backend.Reply{BackendName: backendName, Executions: results})
	}()
	return ch
}

func oneExecutionTask(t *testing.T) task.Task {
	t.Helper()
	builder, err := task.NewBuilder().ExtendExecutions(task.Execution{Image: "ubuntu", Args: []string{"true"}})
	require.NoError(t, err)
	tsk, err := builder.Build()
	require.NoError(t, err)
	return tsk
}

// TestSubmitAndRunRegisteredBackend validates invariant 4's success half:
// after WithBackend("b", ...), Submit("b", t) succeeds and resolves via Run.
func TestSubmitAndRunRegisteredBackend(t *testing.T) {
	e := New()
	e.WithBackend("b", &fakeBackend{name: "b"})

	handle := e.Submit("b", oneExecutionTask(t))

	go e.Run(context.Background())

	select {
	case reply := <-handle.Reply:
		assert.Equal(t, "b", reply.BackendName)
		assert.Len(t, reply.Executions, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

// TestSubmitUnregisteredBackendPanics validates invariant 4's failure half:
// submitting to a name that was never registered is a programmer error.
func TestSubmitUnregisteredBackendPanics(t *testing.T) {
	e := New()
	assert.Panics(t, func() {
		e.Submit("missing", oneExecutionTask(t))
	})
}

// TestDroppedHandleNeverBlocksOrPanics validates invariant 7: never reading
// the Handle's reply never blocks Run or panics the sender.
func TestDroppedHandleNeverBlocksOrPanics(t *testing.T) {
	e := New()
	e.WithBackend("b", &fakeBackend{name: "b"})

	_ = e.Submit("b", oneExecutionTask(t))

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned despite a dropped handle")
	}
}

// TestRunDrivesManyConcurrentSubmissions validates S3-style concurrent
// dispatch: ten submissions to the same backend all resolve.
func TestRunDrivesManyConcurrentSubmissions(t *testing.T) {
	e := New()
	e.WithBackend("b", &fakeBackend{name: "b"})

	const n = 10
	handles := make([]*Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = e.Submit("b", oneExecutionTask(t))
	}

	go e.Run(context.Background())

	for i := 0; i < n; i++ {
		select {
		case reply := <-handles[i].Reply:
			assert.Len(t, reply.Executions, 1)
		case <-time.After(2 * time.Second):
			t.Fatalf("handle %d timed out", i)
		}
	}
}
