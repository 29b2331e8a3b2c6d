// Package remote implements a backend that dispatches tasks to a remote
// task-execution service over HTTP and polls it until the task reaches a
// terminal state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/task"
	"github.com/crankshaft-oss/crankshaft/telemetry"
)

// executingStates is the set of states a task-execution-service task may be
// in before it reaches a terminal outcome.
var executingStates = map[string]bool{
	"UNKNOWN":      true,
	"QUEUED":       true,
	"INITIALIZING": true,
	"RUNNING":      true,
	"PAUSED":       true,
}

// fixedPollInterval is used when the Backend was not constructed in
// randomized polling mode.
const fixedPollInterval = 200 * time.Millisecond

// Backend dispatches tasks to a remote task-execution service by POSTing a
// translated task description and polling its status until terminal.
type Backend struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	randomized bool
	limiter    *rate.Limiter

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithHTTPClient overrides the *http.Client used for requests. The default
// is http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// WithRandomizedPolling staggers pollers across many concurrently-dispatched
// tasks by sleeping a random duration in [100, 300) ms between polls instead
// of the fixed 200ms interval.
func WithRandomizedPolling() Option {
	return func(b *Backend) { b.randomized = true }
}

// WithRateLimiter paces polling requests through r in addition to the
// per-poll sleep, bounding how often the remote service is hit across many
// in-flight tasks sharing this Backend.
func WithRateLimiter(r *rate.Limiter) Option {
	return func(b *Backend) { b.limiter = r }
}

// WithLogger overrides the backend's Logger. The default is telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithTracer overrides the backend's Tracer. The default is telemetry.NoopTracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(b *Backend) { b.tracer = t }
}

// New constructs a Backend targeting baseURL. token, if non-empty, is sent
// as `Authorization: Basic <token>` on every request.
func New(name, baseURL, token string, opts ...Option) *Backend {
	b := &Backend{
		name:       name,
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
		logger:     telemetry.NewNoopLogger(),
		tracer:     telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultName returns the registry key this backend was constructed with.
func (b *Backend) DefaultName() string { return b.name }

// wireTask is the subset of the task-execution-service wire schema the core
// populates: name, description, and one executor per execution.
type wireTask struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Executors   []wireExecutor `json:"executors"`
}

type wireExecutor struct {
	Image   string   `json:"image"`
	Command []string `json:"command"`
}

type createResponse struct {
	ID string `json:"id"`
}

type wireLogEntry struct {
	ExitCode int64  `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type wireTaskLog struct {
	Logs []wireLogEntry `json:"logs"`
}

type wireTaskView struct {
	State string        `json:"state"`
	Logs  []wireTaskLog `json:"logs"`
}

// Run translates t to the remote service's wire schema, submits it, and
// polls until the remote task reaches a terminal state, sending a single
// backend.Reply with one ExecutionResult per returned log entry.
func (b *Backend) Run(ctx context.Context, backendName string, t task.Task) <-chan backend.Reply {
	ch := backend.NewReplyChannel()
	correlationID := uuid.NewString()

	go func() {
		results, err := b.run(ctx, correlationID, t)
		if err != nil {
			b.logger.Error(ctx, "remote backend dispatch failed", "backend", backendName, "correlation_id", correlationID, "err", err)
		}
		backend.Send(ch, backend.Reply{BackendName: backendName, Executions: results})
	}()

	return ch
}

func (b *Backend) run(ctx context.Context, correlationID string, t task.Task) ([]backend.ExecutionResult, error) {
	wire := translate(t)

	taskID, err := b.createTask(ctx, wire)
	if err != nil {
		return nil, fmt.Errorf("remote backend: create task: %w", err)
	}

	b.logger.Debug(ctx, "remote backend task created", "correlation_id", correlationID, "task_id", taskID)

	for {
		view, err := b.getTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("remote backend: poll task: %w", err)
		}

		if !executingStates[view.State] {
			b.logger.Info(ctx, "remote backend task reached terminal state", "correlation_id", correlationID, "task_id", taskID, "state", view.State)
			return resultsFromView(view), nil
		}

		if err := b.sleepBetweenPolls(ctx); err != nil {
			return nil, err
		}
	}
}

func translate(t task.Task) wireTask {
	wire := wireTask{}
	if name, ok := t.Name(); ok {
		wire.Name = name
	}
	if desc, ok := t.Description(); ok {
		wire.Description = desc
	}
	for _, execution := range t.Executions() {
		wire.Executors = append(wire.Executors, wireExecutor{
			Image:   execution.Image,
			Command: execution.Args,
		})
	}
	return wire
}

func resultsFromView(view wireTaskView) []backend.ExecutionResult {
	var results []backend.ExecutionResult
	for _, log := range view.Logs {
		for _, entry := range log.Logs {
			results = append(results, backend.ExecutionResult{
				Status: entry.ExitCode,
				Stdout: entry.Stdout,
				Stderr: entry.Stderr,
			})
		}
	}
	return results
}

func (b *Backend) sleepBetweenPolls(ctx context.Context) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	interval := fixedPollInterval
	if b.randomized {
		interval = time.Duration(100+rand.Intn(200)) * time.Millisecond
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
		return nil
	}
}

func (b *Backend) createTask(ctx context.Context, wire wireTask) (string, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}

	var resp createResponse
	err = b.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/tasks", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		b.setAuth(req)

		return b.do(req, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (b *Backend) getTask(ctx context.Context, id string) (wireTaskView, error) {
	var view wireTaskView
	err := b.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/tasks/"+id+"?view=FULL", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		b.setAuth(req)

		return b.do(req, &view)
	})
	return view, err
}

func (b *Backend) setAuth(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Basic "+b.token)
	}
}

// do issues req and decodes a JSON response body into out. Non-2xx
// responses are treated as retryable transient failures.
func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote backend: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// doWithRetry runs op with exponential-backoff retry, capped at 3 retries,
// as the specification's "max 3 retries" policy for the remote HTTP client.
func (b *Backend) doWithRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
