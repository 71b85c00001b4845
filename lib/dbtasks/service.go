package dbtasks

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/eapache/queue"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dbtasks")

var (
	tasksSubmitted = metrics.GetOrCreateCounter(`rackrpc_dbtasks_submitted_total`)
	tasksExecuted  = metrics.GetOrCreateCounter(`rackrpc_dbtasks_executed_total`)
	tasksFailed    = metrics.GetOrCreateCounter(`rackrpc_dbtasks_failed_total`)
	tasksCancelled = metrics.GetOrCreateCounter(`rackrpc_dbtasks_cancelled_total`)
)

type serviceState int

const (
	stateStopped serviceState = iota
	stateRunning
	stateDraining
)

// Service executes submitted callables one at a time, in strict submission
// order, on a single worker goroutine. It exists so blocking database work
// never runs on the goroutines driving RPC I/O while still being globally
// serialized.
//
// Lifecycle: stopped -> running -> draining -> stopped. Submissions are
// refused (never blocked) outside the running state. There is no queue depth
// limit while running.
type Service struct {
	mu   sync.Mutex
	cond *sync.Cond

	// pending is a FIFO ring buffer of *Task; cancelled entries stay in the
	// ring and are skipped by the worker
	pending *queue.Queue

	state      serviceState
	workerDone chan struct{}
}

// NewService creates a stopped task queue service.
func NewService() *Service {
	s := &Service{
		pending: queue.New(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start opens the queue to submissions and launches the worker.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStopped {
		return fmt.Errorf("dbtasks: service already started")
	}
	s.state = stateRunning
	s.workerDone = make(chan struct{})
	go s.worker(s.workerDone)

	Logger.Infof("task queue service started")
	return nil
}

// Stop refuses further submissions and drains the queue: every task present
// at any point during the drain runs to completion before Stop returns.
// Skipping the wait during process shutdown risks losing queued database
// work.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = stateDraining
	workerDone := s.workerDone
	s.cond.Signal()
	s.mu.Unlock()

	<-workerDone
	Logger.Infof("task queue service stopped")
	return nil
}

// --------------------------------------------------------------------------
// Submission
// --------------------------------------------------------------------------

// Submit enqueues fn fire-and-forget style: a task failure is logged, not
// propagated, and the optional callbacks run in order on the result of a
// successful execution. The submission itself only fails when the service is
// not running.
func (s *Service) Submit(fn TaskFunc, callbacks ...Callback) error {
	_, err := s.enqueue(&Task{
		fn:            fn,
		callbacks:     callbacks,
		fireAndForget: true,
	})
	return err
}

// Deferred enqueues fn and returns an awaitable handle resolving with the
// task's result or failure. The handle can cancel the task while it is still
// queued.
func (s *Service) Deferred(fn TaskFunc) (*Task, error) {
	return s.enqueue(&Task{fn: fn})
}

// Barrier enqueues a no-op marker task. Its handle resolves only once every
// task submitted before the barrier has finished, which makes it the
// deterministic way to flush the queue.
func (s *Service) Barrier() (*Task, error) {
	return s.enqueue(&Task{fn: func() (any, error) { return nil, nil }})
}

func (s *Service) enqueue(t *Task) (*Task, error) {
	t.svc = s
	t.done = make(chan struct{})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil, ErrNotRunning
	}
	s.pending.Add(t)
	tasksSubmitted.Inc()
	s.cond.Signal()
	return t, nil
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// worker pops one task at a time, preserving FIFO order and the
// one-in-flight guarantee. It exits once a drain empties the queue.
func (s *Service) worker(done chan struct{}) {
	for {
		s.mu.Lock()
		for s.pending.Length() == 0 && s.state == stateRunning {
			s.cond.Wait()
		}
		if s.pending.Length() == 0 {
			// Draining and empty: the drain is complete.
			s.state = stateStopped
			s.mu.Unlock()
			close(done)
			return
		}

		t := s.pending.Remove().(*Task)
		if t.state == taskCancelled {
			s.mu.Unlock()
			continue
		}
		t.state = taskRunning
		s.mu.Unlock()

		t.run()
	}
}
