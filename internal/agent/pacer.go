package agent

import (
	"context"
	"sync"
	"time"
)

// callPacer spaces outbound provider requests so a runaway round loop
// cannot hammer the API. The first few calls of a burst pass untouched;
// past that, callers queue at a fixed interval.
type callPacer struct {
	mu       sync.Mutex
	interval time.Duration
	slack    time.Duration // head start worth one burst of calls
	next     time.Time     // virtual start of the next slot
}

func newCallPacer(burst int, perMinute float64) *callPacer {
	if burst < 1 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	interval := time.Duration(float64(time.Minute) / perMinute)
	return &callPacer{
		interval: interval,
		slack:    time.Duration(burst-1) * interval,
	}
}

// wait blocks until the caller's slot arrives or ctx ends. Slots are
// handed out in call order; an idle stretch restores the burst.
func (p *callPacer) wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	if p.next.Before(now) {
		p.next = now
	}
	delay := p.next.Sub(now) - p.slack
	p.next = p.next.Add(p.interval)
	p.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
