// Package container implements a backend that runs each execution of a task
// as a container: it creates one container per execution, stages the task's
// inputs into it, execs the execution's command, streams its demultiplexed
// output, and collects an exit status.
package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	petname "github.com/dustinkirkland/golang-petname"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/fetch"
	"github.com/crankshaft-oss/crankshaft/task"
	"github.com/crankshaft-oss/crankshaft/telemetry"
)

// nameParts is the number of random words concatenated to name each
// container this backend creates.
const nameParts = 4

// nameSeparator joins the random words making up a generated container name.
const nameSeparator = "-"

// Client is the subset of the Docker Engine API this backend depends on,
// narrow enough that a fake can stand in for tests that don't require a
// live daemon.
type Client interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (dockerclient.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Backend dispatches tasks to a Docker-API-compatible container runtime.
type Backend struct {
	name    string
	client  Client
	cleanup bool

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithCleanup enables best-effort container kill+remove after each
// execution. Enabled by default; pass false to leave containers in place so
// they can be inspected.
func WithCleanup(enabled bool) Option {
	return func(b *Backend) { b.cleanup = enabled }
}

// WithLogger overrides the backend's Logger. The default is telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithTracer overrides the backend's Tracer. The default is telemetry.NoopTracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(b *Backend) { b.tracer = t }
}

// New constructs a Backend connected through client, which must implement
// Client (satisfied by *dockerclient.Client from the Docker Engine API
// module).
func New(name string, client Client, opts ...Option) *Backend {
	b := &Backend{
		name:    name,
		client:  client,
		cleanup: true,
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromEnv constructs a Backend using a Docker client configured from the
// environment (DOCKER_HOST, DOCKER_CERT_PATH, DOCKER_API_VERSION, etc.),
// negotiating the API version with the daemon.
func NewFromEnv(name string, opts ...Option) (*Backend, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container backend: connect to docker: %w", err)
	}
	return New(name, cli, opts...), nil
}

// DefaultName returns the registry key this backend was constructed with.
func (b *Backend) DefaultName() string { return b.name }

// Run runs every execution of t in order as a fresh container, sending a
// single backend.Reply once all executions have resolved or one has failed.
// Shared volumes declared on t are materialized once as host temp
// directories and bind-mounted into every execution's container.
func (b *Backend) Run(ctx context.Context, backendName string, t task.Task) <-chan backend.Reply {
	ch := backend.NewReplyChannel()

	go func() {
		results, err := b.run(ctx, t)
		if err != nil {
			b.logger.Error(ctx, "container backend execution failed", "backend", backendName, "err", err)
		}
		backend.Send(ch, backend.Reply{BackendName: backendName, Executions: results})
	}()

	return ch
}

func (b *Backend) run(ctx context.Context, t task.Task) ([]backend.ExecutionResult, error) {
	sharedMounts, cleanupVolumes, err := b.prepareVolumes(t.Volumes())
	defer cleanupVolumes()
	if err != nil {
		return nil, fmt.Errorf("prepare shared volumes: %w", err)
	}

	var results []backend.ExecutionResult
	for _, execution := range t.Executions() {
		result, err := b.runExecution(ctx, t, execution, sharedMounts)
		if err != nil {
			return results, fmt.Errorf("run execution: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// prepareVolumes creates one host temp directory per declared volume path
// and returns the corresponding bind mounts, shared across every execution
// of the task. The returned cleanup func removes the temp directories once
// the task's dispatch future resolves.
func (b *Backend) prepareVolumes(volumes []string) ([]mount.Mount, func(), error) {
	var mounts []mount.Mount
	var dirs []string

	cleanup := func() {
		for _, d := range dirs {
			_ = os.RemoveAll(d)
		}
	}

	for _, volumePath := range volumes {
		dir, err := os.MkdirTemp("", "crankshaft-volume-")
		if err != nil {
			return nil, cleanup, err
		}
		dirs = append(dirs, dir)
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: dir,
			Target: volumePath,
		})
	}
	return mounts, cleanup, nil
}

func (b *Backend) runExecution(ctx context.Context, t task.Task, execution task.Execution, sharedMounts []mount.Mount) (backend.ExecutionResult, error) {
	name := randomName()

	hostConfig := &container.HostConfig{
		Mounts:    sharedMounts,
		Resources: resourcesFrom(t.Resources()),
	}

	_, err := b.client.ContainerCreate(ctx, &container.Config{
		Image:      execution.Image,
		Tty:        true,
		WorkingDir: execution.Workdir,
	}, hostConfig, nil, nil, name)
	if err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("create container: %w", err)
	}

	if b.cleanup {
		defer b.cleanupContainer(ctx, name)
	}

	if err := b.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("start container: %w", err)
	}

	if err := b.stageInputs(ctx, name, t.Inputs()); err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("stage inputs: %w", err)
	}

	return b.execAndCollect(ctx, name, execution)
}

// resourcesFrom translates a task's Resources request into Docker
// HostConfig.Resources fields: ram_gb becomes bytes of memory, cpu_cores
// becomes NanoCPUs, disk_gb becomes the "size" storage option.
func resourcesFrom(r *task.Resources) container.Resources {
	if r == nil {
		return container.Resources{}
	}

	res := container.Resources{}
	if r.RAMGB != nil {
		res.Memory = int64(*r.RAMGB * (1 << 30))
	}
	if r.CPUCores != nil {
		res.NanoCPUs = *r.CPUCores * 1_000_000_000
	}
	if r.DiskGB != nil {
		res.StorageOpt = map[string]string{
			"size": strconv.FormatFloat(*r.DiskGB, 'f', -1, 64) + "g",
		}
	}
	return res
}

// stageInputs fetches each input's contents and uploads it as a
// single-entry tar archive to the container's root, at its container-
// absolute path with the leading slash stripped (tar entries are always
// relative to the archive root).
func (b *Backend) stageInputs(ctx context.Context, containerName string, inputs []task.Input) error {
	for _, input := range inputs {
		data, err := fetch.Fetch(ctx, input)
		if err != nil {
			return fmt.Errorf("fetch input %q: %w", input.Path, err)
		}

		archive, err := singleEntryTar(strings.TrimPrefix(input.Path, "/"), data)
		if err != nil {
			return fmt.Errorf("build tar for %q: %w", input.Path, err)
		}

		if err := b.client.CopyToContainer(ctx, containerName, "/", bytes.NewReader(archive), container.CopyToContainerOptions{}); err != nil {
			return fmt.Errorf("upload input %q: %w", input.Path, err)
		}
	}
	return nil
}

// singleEntryTar builds a tar archive containing one regular file at name
// with mode 0644, holding data.
func singleEntryTar(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := w.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// execAndCollect creates and runs an attached exec for execution.Args inside
// containerName, demuxes its combined output stream, and inspects the exec's
// final exit code.
func (b *Backend) execAndCollect(ctx context.Context, containerName string, execution task.Execution) (backend.ExecutionResult, error) {
	created, err := b.client.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd:          execution.Args,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("create exec: %w", err)
	}

	attached, err := b.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("attach exec: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("demux exec output: %w", err)
	}

	inspect, err := b.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("inspect exec: %w", err)
	}

	status := int64(-1)
	if !inspect.Running {
		status = int64(inspect.ExitCode)
	}

	return backend.ExecutionResult{
		Status: status,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}, nil
}

// cleanupContainer best-effort kills and removes the container. Failures
// are logged but never fail the execution whose result has already been
// collected.
func (b *Backend) cleanupContainer(ctx context.Context, name string) {
	if err := b.client.ContainerKill(ctx, name, "SIGKILL"); err != nil {
		b.logger.Warn(ctx, "container backend: kill failed", "container", name, "err", err)
	}
	if err := b.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		b.logger.Warn(ctx, "container backend: remove failed", "container", name, "err", err)
	}
}

// randomName generates a fresh container name by concatenating nameParts
// random English words with nameSeparator.
func randomName() string {
	parts := make([]string, nameParts)
	for i := range parts {
		parts[i] = petname.Generate(1, "")
	}
	return strings.Join(parts, nameSeparator)
}
