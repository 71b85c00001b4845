package dbtasks

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotRunning indicates a submission was refused because the service
	// has not been started, or a drain has already begun.
	ErrNotRunning = errors.New("dbtasks: service is not running")

	// ErrAlreadyRunning indicates a cancellation arrived after the task
	// started executing. The side effect may already have happened, so the
	// late cancel fails loudly instead of silently doing nothing.
	ErrAlreadyRunning = errors.New("dbtasks: task is already running")

	// ErrCancelled resolves the handle of a task that was cancelled while
	// still queued.
	ErrCancelled = errors.New("dbtasks: task was cancelled before it ran")
)

// TaskFunc is a deferred callable executed by the service, typically a
// blocking database operation that must not run on a network goroutine.
type TaskFunc func() (any, error)

// Callback receives the result of a successfully executed task. Callbacks
// run in submission order; a panicking callback is logged and swallowed.
type Callback func(result any)

type taskState int

const (
	taskQueued taskState = iota
	taskRunning
	taskDone
	taskCancelled
)

// Task is the handle of a queued callable. Handles are created by
// Service.Deferred and Service.Barrier; fire-and-forget submissions have no
// handle.
type Task struct {
	svc       *Service
	fn        TaskFunc
	callbacks []Callback

	// fireAndForget marks tasks whose failure is logged instead of being
	// delivered to a waiter
	fireAndForget bool

	// state, result and err are guarded by svc.mu; result and err are safe
	// to read without the lock once done is closed
	state  taskState
	result any
	err    error
	done   chan struct{}
}

// Done returns a channel closed once the task has finished, failed or been
// cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the task outcome. It must only be called after Done is
// closed.
func (t *Task) Result() (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	default:
		panic("dbtasks: Result called before the task finished")
	}
}

// Wait blocks until the task resolves or the context expires.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes the task from the queue if it has not started yet; the
// handle then resolves with ErrCancelled and the callable never runs.
// Cancelling a task that is running (or already finished) fails with
// ErrAlreadyRunning: the database side effect cannot be assumed avoided, so
// a too-late cancel is an error rather than a silent no-op.
func (t *Task) Cancel() error {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()

	switch t.state {
	case taskQueued:
		t.state = taskCancelled
		t.err = ErrCancelled
		close(t.done)
		tasksCancelled.Inc()
		return nil
	case taskCancelled:
		return nil
	default:
		return ErrAlreadyRunning
	}
}

// run executes the callable and resolves the handle. Called only from the
// service worker, exactly once per non-cancelled task.
func (t *Task) run() {
	result, err := t.call()

	t.svc.mu.Lock()
	t.result, t.err = result, err
	t.state = taskDone
	t.svc.mu.Unlock()
	close(t.done)

	if err != nil {
		tasksFailed.Inc()
		if t.fireAndForget {
			Logger.Errorf("task failed: %v", err)
		}
		return
	}

	tasksExecuted.Inc()
	for _, cb := range t.callbacks {
		t.invokeCallback(cb, result)
	}
}

// call invokes the task function, converting a panic into an error so one
// bad task cannot take down the queue.
func (t *Task) call() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dbtasks: task panicked: %v", r)
		}
	}()
	return t.fn()
}

// invokeCallback runs one result callback, logging and swallowing a panic.
func (t *Task) invokeCallback(cb Callback, result any) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("task callback panicked: %v", r)
		}
	}()
	cb(result)
}
