// Package host hands tool work to the host application's main thread.
// Blender only allows scene mutation from its main thread, so the agent
// goroutines enqueue operations here and a single consumer drains them
// on the host's tick.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Job is one unit of host-thread work.
type Job func(ctx context.Context) (any, error)

// Runner submits a job and blocks until it ran, timed out, or the
// context ended.
type Runner interface {
	Submit(ctx context.Context, fn Job) (any, error)
}

// ErrQueueFull is returned when the bounded queue cannot accept more
// work. The caller surfaces it as a tool error, never a crash.
var ErrQueueFull = errors.New("host queue full")

// ErrTimeout is returned when the host thread did not pick the job up
// in time.
var ErrTimeout = errors.New("host execution timed out")

type task struct {
	ctx  context.Context
	fn   Job
	done chan outcome
}

type outcome struct {
	result any
	err    error
}

// Executor is the bounded queue + promise bridge. Submit can be called
// from any goroutine; Drain must be called from exactly one consumer.
type Executor struct {
	queue   chan *task
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(queueSize int, timeout time.Duration, logger *slog.Logger) *Executor {
	if queueSize <= 0 {
		queueSize = 32
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		queue:   make(chan *task, queueSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Submit enqueues fn and blocks the calling goroutine until the host
// consumer ran it. A full queue fails immediately; a stalled host fails
// after the configured timeout. The deadline rides on the task context,
// so a job whose submitter already got the timeout error is discarded
// by Drain rather than run late.
func (e *Executor) Submit(ctx context.Context, fn Job) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	t := &task{ctx: ctx, fn: fn, done: make(chan outcome, 1)}

	select {
	case e.queue <- t:
	default:
		return nil, ErrQueueFull
	}

	select {
	case out := <-t.done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return nil, ctx.Err()
	}
}

// Drain runs up to max queued jobs and returns how many ran. Called
// from the host's main-thread tick. A job whose submitter already gave
// up (context ended) is skipped, not executed.
func (e *Executor) Drain(max int) int {
	ran := 0
	for ran < max {
		select {
		case t := <-e.queue:
			if t.ctx.Err() != nil {
				t.done <- outcome{err: t.ctx.Err()}
				continue
			}
			result, err := e.run(t)
			t.done <- outcome{result: result, err: err}
			ran++
		default:
			return ran
		}
	}
	return ran
}

// run executes one job, converting a panic into an error so a faulty
// operation cannot take the host tick down.
func (e *Executor) run(t *task) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("host job panicked", "panic", rec)
			err = fmt.Errorf("host job panicked: %v", rec)
		}
	}()
	return t.fn(t.ctx)
}

// Pending reports how many jobs are queued but not yet drained.
func (e *Executor) Pending() int { return len(e.queue) }

// Inline runs jobs on the calling goroutine. Used by the CLI chat
// command where there is no host thread.
type Inline struct{}

func (Inline) Submit(ctx context.Context, fn Job) (any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return fn(ctx)
}

// Tool adapts a host operation to the tool interface: Execute submits
// the op through the runner and waits for the host thread.
type Tool struct {
	name   string
	runner Runner
	op     func(ctx context.Context, args map[string]any) (any, error)
}

func NewTool(name string, runner Runner, op func(ctx context.Context, args map[string]any) (any, error)) *Tool {
	return &Tool{name: name, runner: runner, op: op}
}

func (t *Tool) Name() string { return t.name }

func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.runner.Submit(ctx, func(ctx context.Context) (any, error) {
		return t.op(ctx, args)
	})
}

var _ domain.Tool = (*Tool)(nil)
