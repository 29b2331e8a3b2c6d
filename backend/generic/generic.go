// Package generic implements a backend that drives an opaque cluster batch
// system through user-supplied shell templates, rather than a library-level
// scheduler integration.
package generic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/task"
	"github.com/crankshaft-oss/crankshaft/task/template"
	"github.com/crankshaft-oss/crankshaft/telemetry"
)

// ErrTemplate is wrapped with a detail when job_id_regex fails to match
// submit output, or a required placeholder was never bound.
var ErrTemplate = fmt.Errorf("crankshaft: generic backend template error")

// Backend dispatches tasks through submit/monitor/kill shell templates
// rendered via task/template's `~{key}` substitution.
type Backend struct {
	name             string
	submit           string
	jobIDRegex       *regexp.Regexp
	monitor          string
	monitorFrequency time.Duration
	kill             string
	defaultCPU       string
	defaultRAM       string
	runtimeAttrs     map[string]string

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithLogger overrides the backend's Logger. The default is telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithTracer overrides the backend's Tracer. The default is telemetry.NoopTracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(b *Backend) { b.tracer = t }
}

// New constructs a generic shell-template Backend from a backend.Config
// whose Kind is backend.KindGeneric. monitorFrequency defaults to 5 seconds
// when the config's MonitorFrequency is zero.
func New(name string, cfg backend.GenericConfig, defaultCPU, defaultRAM *int, runtimeAttrs map[string]string, opts ...Option) (*Backend, error) {
	b := &Backend{
		name:         name,
		submit:       cfg.Submit,
		monitor:      cfg.Monitor,
		kill:         cfg.Kill,
		runtimeAttrs: runtimeAttrs,
		logger:       telemetry.NewNoopLogger(),
		tracer:       telemetry.NewNoopTracer(),
	}

	if cfg.JobIDRegex != "" {
		re, err := regexp.Compile(cfg.JobIDRegex)
		if err != nil {
			return nil, fmt.Errorf("crankshaft: invalid job_id_regex: %w", err)
		}
		b.jobIDRegex = re
	}

	freq := cfg.MonitorFrequency
	if freq == 0 {
		freq = 5
	}
	b.monitorFrequency = time.Duration(freq) * time.Second

	if defaultCPU != nil {
		b.defaultCPU = strconv.Itoa(*defaultCPU)
	}
	if defaultRAM != nil {
		b.defaultRAM = strconv.Itoa(*defaultRAM)
	}

	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// DefaultName returns the configured registry key this backend was built with.
func (b *Backend) DefaultName() string { return b.name }

// Run renders and runs the submit/monitor(/kill) state machine for every
// execution of t in order, sending a single backend.Reply once all
// executions have resolved or one has failed.
func (b *Backend) Run(ctx context.Context, backendName string, t task.Task) <-chan backend.Reply {
	ch := backend.NewReplyChannel()

	go func() {
		var results []backend.ExecutionResult

		for _, execution := range t.Executions() {
			result, err := b.runExecution(ctx, t, execution)
			if err != nil {
				b.logger.Error(ctx, "generic backend execution failed", "backend", backendName, "err", err)
				break
			}
			results = append(results, result)
		}

		backend.Send(ch, backend.Reply{BackendName: backendName, Executions: results})
	}()

	return ch
}

func (b *Backend) runExecution(ctx context.Context, t task.Task, execution task.Execution) (backend.ExecutionResult, error) {
	bindings := b.bindings(t, execution)

	submitCmd := template.Substitute(b.submit, bindings)
	if strings.Contains(submitCmd, "~{") {
		return backend.ExecutionResult{}, fmt.Errorf("%w: unbound placeholder in submit template", ErrTemplate)
	}
	submitOut, submitErr, submitStatus, err := b.runShell(ctx, submitCmd)
	if err != nil {
		return backend.ExecutionResult{}, fmt.Errorf("generic backend: submit: %w", err)
	}

	if b.jobIDRegex != nil {
		match := b.jobIDRegex.FindStringSubmatch(submitOut)
		if len(match) < 2 {
			return backend.ExecutionResult{}, fmt.Errorf("%w: job_id_regex did not match submit output", ErrTemplate)
		}
		bindings["job_id"] = match[1]
	}

	if b.monitor != "" {
		if strings.Contains(template.Substitute(b.monitor, bindings), "~{") {
			return backend.ExecutionResult{}, fmt.Errorf("%w: unbound placeholder in monitor template", ErrTemplate)
		}
		if err := b.monitorUntilDone(ctx, bindings); err != nil {
			if ctx.Err() != nil {
				if killErr := b.Kill(context.WithoutCancel(ctx), bindings); killErr != nil {
					b.logger.Warn(ctx, "generic backend: kill failed", "err", killErr)
				}
			}
			return backend.ExecutionResult{}, err
		}
	}

	// TODO: the result below is the submit command's own stdout/stderr, not
	// the job's. Richer results would need a user-supplied "fetch logs"
	// template rendered once the monitor loop reaches Terminal.
	return backend.ExecutionResult{
		Status: int64(submitStatus),
		Stdout: submitOut,
		Stderr: submitErr,
	}, nil
}

// monitorUntilDone repeatedly sleeps monitorFrequency and runs the monitor
// template until it exits non-zero, or ctx is canceled.
func (b *Backend) monitorUntilDone(ctx context.Context, bindings map[string]string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.monitorFrequency):
		}

		_, _, status, err := b.runShell(ctx, template.Substitute(b.monitor, bindings))
		if err != nil {
			return fmt.Errorf("generic backend: monitor: %w", err)
		}
		if status != 0 {
			return nil
		}
	}
}

// Kill substitutes and runs the kill template with bindings, as a
// best-effort cancellation signal once the engine abandons a task.
func (b *Backend) Kill(ctx context.Context, bindings map[string]string) error {
	if b.kill == "" {
		return nil
	}
	_, _, _, err := b.runShell(ctx, template.Substitute(b.kill, bindings))
	return err
}

// bindings assembles the per-execution substitution map: runtime_attrs
// seeded first, then script/cwd/memory_mb derived from the execution and
// task, then unset cpu/memory_mb filled from the configured defaults.
func (b *Backend) bindings(t task.Task, execution task.Execution) map[string]string {
	bindings := make(map[string]string, len(b.runtimeAttrs)+4)
	for k, v := range b.runtimeAttrs {
		bindings[k] = v
	}

	bindings["script"] = strings.Join(execution.Args, " ")

	if execution.Workdir != "" {
		bindings["cwd"] = execution.Workdir
	}

	if res := t.Resources(); res != nil && res.RAMGB != nil {
		if _, ok := bindings["memory_mb"]; !ok {
			bindings["memory_mb"] = strconv.Itoa(int(math.Floor(*res.RAMGB * 1000)))
		}
	}

	if _, ok := bindings["cpu"]; !ok && b.defaultCPU != "" {
		bindings["cpu"] = b.defaultCPU
	}
	if _, ok := bindings["memory_mb"]; !ok && b.defaultRAM != "" {
		bindings["memory_mb"] = b.defaultRAM
	}

	return bindings
}

// runShell runs command through `sh -c`, capturing stdout/stderr and the
// process exit status.
func (b *Backend) runShell(ctx context.Context, command string) (stdout, stderr string, status int, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, runErr
}
