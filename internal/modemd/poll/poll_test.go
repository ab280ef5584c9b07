package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerStartsOnGuardTrue(t *testing.T) {
	s := NewScheduler()
	var ticks int32
	s.Register(Task{
		Name:     "signal-quality",
		Interval: 5 * time.Millisecond,
		Guard:    func() bool { return true },
		Body: func(ctx context.Context) Result {
			atomic.AddInt32(&ticks, 1)
			return Result{}
		},
	})

	s.SyncGuards()
	time.Sleep(30 * time.Millisecond)
	s.StopAll()

	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected at least one tick while guard was true")
	}
}

func TestSchedulerStopsOnGuardFalse(t *testing.T) {
	s := NewScheduler()
	var mu sync.Mutex
	guard := true
	var ticks int32
	s.Register(Task{
		Name:     "timezone",
		Interval: 5 * time.Millisecond,
		Guard: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return guard
		},
		Body: func(ctx context.Context) Result {
			atomic.AddInt32(&ticks, 1)
			return Result{}
		},
	})

	s.SyncGuards()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	guard = false
	mu.Unlock()
	s.SyncGuards()

	time.Sleep(10 * time.Millisecond)
	afterStop := atomic.LoadInt32(&ticks)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != afterStop {
		t.Fatalf("ticks kept incrementing after guard went false: %d -> %d", afterStop, got)
	}
}

func TestSchedulerOneShotStopsAfterSuccess(t *testing.T) {
	s := NewScheduler()
	var ticks int32
	s.Register(Task{
		Name:     "timezone",
		Interval: 5 * time.Millisecond,
		OneShot:  true,
		Guard:    func() bool { return true },
		Body: func(ctx context.Context) Result {
			atomic.AddInt32(&ticks, 1)
			return Result{Success: true}
		},
	})

	s.SyncGuards()
	time.Sleep(40 * time.Millisecond)
	final := atomic.LoadInt32(&ticks)
	if final != 1 {
		t.Fatalf("expected exactly one tick for a one-shot task, got %d", final)
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != final {
		t.Fatalf("one-shot task kept running after success: %d -> %d", final, got)
	}
}

func TestSchedulerExhaustsRetriesAndReportsUnavailable(t *testing.T) {
	s := NewScheduler()
	var unavailable int32
	s.Register(Task{
		Name:       "timezone",
		Interval:   2 * time.Millisecond,
		MaxRetries: 3,
		Guard:      func() bool { return true },
		Body: func(ctx context.Context) Result {
			return Result{Retry: true}
		},
		OnUnavailable: func() { atomic.AddInt32(&unavailable, 1) },
	})

	s.SyncGuards()
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&unavailable) != 1 {
		t.Fatalf("expected exactly one Unavailable report, got %d", unavailable)
	}
}

func TestSchedulerRegisterAppliesDefaults(t *testing.T) {
	s := NewScheduler()
	s.Register(Task{Name: "t", Guard: func() bool { return false }, Body: func(ctx context.Context) Result { return Result{} }})

	rt := s.tasks["t"]
	if rt.task.Interval != DefaultInterval {
		t.Fatalf("Interval = %v, want default %v", rt.task.Interval, DefaultInterval)
	}
	if rt.task.MaxRetries != DefaultMaxRetries {
		t.Fatalf("MaxRetries = %d, want default %d", rt.task.MaxRetries, DefaultMaxRetries)
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewScheduler()
	s.Register(Task{
		Name:     "t",
		Interval: 5 * time.Millisecond,
		Guard:    func() bool { return true },
		Body:     func(ctx context.Context) Result { return Result{} },
	})
	s.SyncGuards()
	s.Stop("t")
	s.Stop("t") // must not panic or block
}
