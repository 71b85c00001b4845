package dbtasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func startedService(t *testing.T) *Service {
	t.Helper()

	s := NewService()
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func TestLifecycleRefusals(t *testing.T) {
	s := NewService()

	// Before Start every submission is refused immediately.
	if err := s.Submit(func() (any, error) { return nil, nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit before Start = %v, want ErrNotRunning", err)
	}
	if _, err := s.Deferred(func() (any, error) { return nil, nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Deferred before Start = %v, want ErrNotRunning", err)
	}
	if _, err := s.Barrier(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Barrier before Start = %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Errorf("second Start succeeded, want error")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// After Stop the queue is refusing again.
	if err := s.Submit(func() (any, error) { return nil, nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit after Stop = %v, want ErrNotRunning", err)
	}

	// A stopped service can be started again.
	if err := s.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop after restart failed: %v", err)
	}
}

// TestStrictOrdering submits a slow task first and checks later tasks still
// run after it.
func TestStrictOrdering(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	var order []int
	record := func(i int) TaskFunc {
		return func() (any, error) {
			order = append(order, i)
			return nil, nil
		}
	}

	t1, err := s.Deferred(func() (any, error) {
		time.Sleep(50 * time.Millisecond)
		order = append(order, 1)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Deferred failed: %v", err)
	}
	t2, err := s.Deferred(record(2))
	if err != nil {
		t.Fatalf("Deferred failed: %v", err)
	}
	t3, err := s.Deferred(record(3))
	if err != nil {
		t.Fatalf("Deferred failed: %v", err)
	}

	for _, task := range []*Task{t1, t2, t3} {
		if _, err := task.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	want := []int{1, 2, 3}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

// TestSingleConcurrency checks at most one task body runs at a time.
func TestSingleConcurrency(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	var inFlight, maxInFlight atomic.Int32
	for i := 0; i < 32; i++ {
		err := s.Submit(func() (any, error) {
			n := inFlight.Add(1)
			if m := maxInFlight.Load(); n > m {
				maxInFlight.Store(n)
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	barrier, err := s.Barrier()
	if err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if _, err := barrier.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if maxInFlight.Load() != 1 {
		t.Errorf("max in-flight tasks = %d, want 1", maxInFlight.Load())
	}
}

// TestFireAndForgetBarrierScenario is the documented scenario: 100
// fire-and-forget tasks appending their index, then a barrier; after the
// barrier resolves the log holds 0..99 in order.
func TestFireAndForgetBarrierScenario(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	var log []int
	for i := 0; i < 100; i++ {
		i := i
		if err := s.Submit(func() (any, error) {
			log = append(log, i)
			return nil, nil
		}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	barrier, err := s.Barrier()
	if err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if _, err := barrier.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if len(log) != 100 {
		t.Fatalf("log holds %d entries, want 100", len(log))
	}
	for i, got := range log {
		if got != i {
			t.Fatalf("log[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestDeferredResult(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	t.Run("Success", func(t *testing.T) {
		task, err := s.Deferred(func() (any, error) { return 42, nil })
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}
		result, err := task.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if result != 42 {
			t.Errorf("result = %v, want 42", result)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		taskErr := errors.New("deadlock detected")
		task, err := s.Deferred(func() (any, error) { return nil, taskErr })
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}
		if _, err := task.Wait(context.Background()); !errors.Is(err, taskErr) {
			t.Errorf("Wait error = %v, want the task error", err)
		}
	})

	t.Run("PanicIsolated", func(t *testing.T) {
		task, err := s.Deferred(func() (any, error) { panic("constraint violation") })
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}
		if _, err := task.Wait(context.Background()); err == nil {
			t.Errorf("Wait after panic = nil error, want failure")
		}

		// The queue survives the panic.
		next, err := s.Deferred(func() (any, error) { return "alive", nil })
		if err != nil {
			t.Fatalf("Deferred after panic failed: %v", err)
		}
		if result, err := next.Wait(context.Background()); err != nil || result != "alive" {
			t.Errorf("queue did not survive a panicking task: %v %v", result, err)
		}
	})
}

func TestCancel(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	t.Run("BeforeStart", func(t *testing.T) {
		release := make(chan struct{})
		blocker, err := s.Deferred(func() (any, error) {
			<-release
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}

		var ran atomic.Bool
		task, err := s.Deferred(func() (any, error) {
			ran.Store(true)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}

		if err := task.Cancel(); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if _, err := task.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
			t.Errorf("Wait on cancelled task = %v, want ErrCancelled", err)
		}

		close(release)
		if _, err := blocker.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}

		barrier, err := s.Barrier()
		if err != nil {
			t.Fatalf("Barrier failed: %v", err)
		}
		if _, err := barrier.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if ran.Load() {
			t.Errorf("cancelled task executed anyway")
		}
	})

	t.Run("AfterStart", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		task, err := s.Deferred(func() (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Deferred failed: %v", err)
		}

		<-started
		if err := task.Cancel(); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Cancel on running task = %v, want ErrAlreadyRunning", err)
		}
		close(release)
		if _, err := task.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}

		// Cancelling a finished task is also too late.
		if err := task.Cancel(); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Cancel on finished task = %v, want ErrAlreadyRunning", err)
		}
	})
}

func TestCallbacks(t *testing.T) {
	s := startedService(t)
	defer func() { _ = s.Stop() }()

	var got []string
	err := s.Submit(
		func() (any, error) { return "machine-7", nil },
		func(result any) { got = append(got, fmt.Sprintf("first:%v", result)) },
		func(result any) { panic("broken callback") },
		func(result any) { got = append(got, fmt.Sprintf("third:%v", result)) },
	)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	barrier, err := s.Barrier()
	if err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if _, err := barrier.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	want := []string{"first:machine-7", "third:machine-7"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("callbacks ran as %v, want %v (panicking one swallowed)", got, want)
	}
}

// TestStopDrains checks Stop only returns once every queued task has
// finished, including ones still waiting when the drain begins.
func TestStopDrains(t *testing.T) {
	s := startedService(t)

	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		if err := s.Submit(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			executed.Add(1)
			return nil, nil
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := executed.Load(); got != 10 {
		t.Errorf("Stop returned with %d/10 tasks executed", got)
	}
}
