package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AbortController is a single-shot cancellation signal for one request.
// The loop checks it at every suspension boundary: before a provider
// call, between tool dispatches, and while parked on a confirmation.
// A tool already running on the host is allowed to finish; only queued
// work is discarded.
type AbortController struct {
	RequestID string

	once sync.Once
	done chan struct{}
}

func NewAbortController() *AbortController {
	return &AbortController{
		RequestID: uuid.NewString(),
		done:      make(chan struct{}),
	}
}

// Abort fires the signal. Safe to call more than once and from any
// goroutine; only the first call has effect.
func (a *AbortController) Abort() {
	a.once.Do(func() { close(a.done) })
}

// Aborted reports whether the signal has fired.
func (a *AbortController) Aborted() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Done exposes the signal for select loops.
func (a *AbortController) Done() <-chan struct{} { return a.done }

// Context derives a context cancelled when either the parent ends or
// the abort fires. Used to cut off in-flight provider requests.
func (a *AbortController) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
