//go:build docker

package container

import (
	"context"
	"testing"

	dockerclient "github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/crankshaft-oss/crankshaft/task"
)

// skipUnlessDockerAvailable pings the daemon through testcontainers-go's
// Docker provider, so these tests skip cleanly rather than fail in a sandbox
// with no Docker socket.
func skipUnlessDockerAvailable(t *testing.T) {
	t.Helper()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer provider.Close()

	if err := provider.Health(context.Background()); err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}
}

// TestContainerHappyPathAgainstRealDaemon validates S1 against a live Docker
// daemon (DOCKER_HOST / the default socket). Skipped unless the `docker`
// build tag is set, since CI sandboxes commonly lack a daemon.
func TestContainerHappyPathAgainstRealDaemon(t *testing.T) {
	skipUnlessDockerAvailable(t)

	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	require.NoError(t, err)

	b := New("docker", cli, WithCleanup(true))

	builder, err := task.NewBuilder().ExtendExecutions(
		task.Execution{Image: "ubuntu", Args: []string{"echo", "hi"}, Stdout: "stdout.txt"},
	)
	require.NoError(t, err)
	tsk, err := builder.Build()
	require.NoError(t, err)

	ch := b.Run(context.Background(), "docker", tsk)
	reply := <-ch

	require.Len(t, reply.Executions, 1)
	assert.Equal(t, int64(0), reply.Executions[0].Status)
	assert.Equal(t, "hi\n", reply.Executions[0].Stdout)
	assert.Empty(t, reply.Executions[0].Stderr)
}

// TestContainerSequentialExecutionsAgainstRealDaemon validates S2: a shared
// volume populated by an input is visible to a later execution.
func TestContainerSequentialExecutionsAgainstRealDaemon(t *testing.T) {
	skipUnlessDockerAvailable(t)

	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	require.NoError(t, err)

	b := New("docker", cli, WithCleanup(true))

	builder, err := task.NewBuilder().ExtendVolumes("/volA")
	require.NoError(t, err)
	builder, err = builder.ExtendInputs(task.Input{Path: "/volA/x", Contents: "DATA\n"})
	require.NoError(t, err)
	builder, err = builder.ExtendExecutions(
		task.Execution{Image: "ubuntu", Args: []string{"ls", "/volA"}},
		task.Execution{Image: "ubuntu", Args: []string{"cat", "/volA/x"}},
	)
	require.NoError(t, err)
	tsk, err := builder.Build()
	require.NoError(t, err)

	ch := b.Run(context.Background(), "docker", tsk)
	reply := <-ch

	require.Len(t, reply.Executions, 2)
	assert.Contains(t, reply.Executions[1].Stdout, "DATA\n")
}

// TestContainerConcurrentSubmissionsAgainstRealDaemon validates S3: the same
// task submitted 10 times all complete with status 0.
func TestContainerConcurrentSubmissionsAgainstRealDaemon(t *testing.T) {
	skipUnlessDockerAvailable(t)

	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	require.NoError(t, err)

	b := New("docker", cli, WithCleanup(true))

	builder, err := task.NewBuilder().ExtendExecutions(
		task.Execution{Image: "ubuntu", Args: []string{"echo", "hi"}},
	)
	require.NoError(t, err)
	tsk, err := builder.Build()
	require.NoError(t, err)

	const n = 10
	replies := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			ch := b.Run(context.Background(), "docker", tsk.Clone())
			reply := <-ch
			replies <- len(reply.Executions) == 1 && reply.Executions[0].Status == 0
		}()
	}

	for i := 0; i < n; i++ {
		assert.True(t, <-replies)
	}
}
