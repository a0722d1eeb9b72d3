package host

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func drainLoop(t *testing.T, e *Executor, stop <-chan struct{}) {
	t.Helper()
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				e.Drain(8)
				time.Sleep(time.Millisecond)
			}
		}
	}()
}

func TestExecutor_SubmitRunsOnDrain(t *testing.T) {
	e := NewExecutor(4, time.Second, testLogger())
	stop := make(chan struct{})
	defer close(stop)
	drainLoop(t, e, stop)

	result, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "scene updated", nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result != "scene updated" {
		t.Fatalf("result: %v", result)
	}
}

func TestExecutor_JobErrorReachesSubmitter(t *testing.T) {
	e := NewExecutor(4, time.Second, testLogger())
	stop := make(chan struct{})
	defer close(stop)
	drainLoop(t, e, stop)

	wantErr := errors.New("object not found")
	_, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestExecutor_TimeoutWhenHostStalls(t *testing.T) {
	e := NewExecutor(4, 30*time.Millisecond, testLogger())
	// No drain loop: the host never ticks.

	_, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "never", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestExecutor_TimedOutJobDiscardedOnDrain(t *testing.T) {
	e := NewExecutor(4, 20*time.Millisecond, testLogger())

	ran := false
	_, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// A late host tick must not execute work already reported as failed.
	e.Drain(4)
	if ran {
		t.Fatal("timed-out job ran after its submitter gave up")
	}
}

func TestExecutor_QueueFullFailsFast(t *testing.T) {
	e := NewExecutor(1, time.Second, testLogger())

	// Fill the single slot; nobody drains.
	go e.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil }) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	_, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestExecutor_CancelledJobSkipped(t *testing.T) {
	e := NewExecutor(4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Submit(ctx, func(ctx context.Context) (any, error) { //nolint:errcheck
			ran = true
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	// Drain after the submitter gave up: the job must not run.
	e.Drain(8)
	if ran {
		t.Fatal("cancelled job must be skipped by the drain loop")
	}
}

func TestExecutor_PanicBecomesError(t *testing.T) {
	e := NewExecutor(4, time.Second, testLogger())
	stop := make(chan struct{})
	defer close(stop)
	drainLoop(t, e, stop)

	_, err := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		panic("bad pointer into scene data")
	})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestExecutor_SequentialDrainOrder(t *testing.T) {
	e := NewExecutor(8, time.Second, testLogger())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			e.Submit(context.Background(), func(ctx context.Context) (any, error) { //nolint:errcheck
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Stagger submissions so queue order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}

	if n := e.Drain(10); n != 3 {
		t.Fatalf("expected 3 jobs drained, got %d", n)
	}
	wg.Wait()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("jobs should run in submission order: %v", order)
	}
}

func TestInline_RunsDirectly(t *testing.T) {
	var r Runner = Inline{}
	result, err := r.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Fatalf("inline: %v %v", result, err)
	}
}

func TestHostTool_RoundTrip(t *testing.T) {
	tool := NewTool("get_scene_info", Inline{}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"objects": 3}, nil
	})
	if tool.Name() != "get_scene_info" {
		t.Fatal("name mismatch")
	}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m := result.(map[string]any); m["objects"] != 3 {
		t.Fatalf("result: %v", result)
	}
}
