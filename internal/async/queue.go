// Package async runs import attempts on a fixed pool of background workers
// and reports each attempt's completion to observers.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"termsync/internal/logging"
	"termsync/pkg/domain"
)

// DefaultWorkers is one worker per catalog terminology, so distinct
// terminologies never wait on each other.
func DefaultWorkers() int { return len(domain.DefaultCatalog().All()) }

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("queue is shutting down")
	// ErrFull is returned by Submit when every queue slot is taken.
	ErrFull = errors.New("queue full")
)

// Task is one unit of background work.
type Task struct {
	Terminology string
	Version     string
	Run         func(ctx context.Context) error
}

// Event describes a task that started or finished. Duration and Err are
// set on completion only.
type Event struct {
	ID          string
	Terminology string
	Version     string
	Started     time.Time
	Duration    time.Duration
	Err         error
}

// Observer is notified around every task. Calls happen on worker goroutines.
type Observer interface {
	TaskStarted(Event)
	TaskFinished(Event)
}

// ObserverFunc adapts a completion callback to Observer.
type ObserverFunc func(Event)

// TaskStarted is a no-op.
func (ObserverFunc) TaskStarted(Event) {}

// TaskFinished calls f.
func (f ObserverFunc) TaskFinished(e Event) { f(e) }

type job struct {
	id   string
	task Task
}

// Queue is a bounded FIFO drained by a fixed number of workers.
type Queue struct {
	logger    logging.Logger
	observers []Observer
	workers   int
	now       func() time.Time

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets how many tasks may wait for a worker.
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan job, n)
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observers = append(q.observers, o)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(q *Queue) { q.logger = logging.OrNop(l) }
}

// WithClock overrides the time source used for events.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue starts the workers.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		logger:  logging.Nop(),
		workers: DefaultWorkers(),
		now:     time.Now,
		ch:      make(chan job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				for j := range q.ch {
					q.run(workerID, j)
				}
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, j job) {
	ev := Event{ID: j.id, Terminology: j.task.Terminology, Version: j.task.Version, Started: q.now()}
	for _, o := range q.observers {
		o.TaskStarted(ev)
	}
	q.logger.Debug("task started", "worker_id", workerID, "attempt_id", j.id, "terminology", j.task.Terminology)

	ev.Err = q.call(j.task)
	ev.Duration = q.now().Sub(ev.Started)

	if ev.Err != nil {
		q.logger.Error("task failed", "worker_id", workerID, "attempt_id", j.id, "terminology", j.task.Terminology,
			"requested_version", j.task.Version, "duration", ev.Duration, "error", ev.Err)
	} else {
		q.logger.Info("task finished", "worker_id", workerID, "attempt_id", j.id, "terminology", j.task.Terminology,
			"requested_version", j.task.Version, "duration", ev.Duration)
	}
	for _, o := range q.observers {
		o.TaskFinished(ev)
	}
}

// call runs the task with a context detached from any caller. Attempts are
// not cancellable once scheduled.
func (q *Queue) call(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Terminology, r)
		}
	}()
	if t.Run == nil {
		return errors.New("task has no run function")
	}
	return t.Run(context.Background())
}

// Submit enqueues t without blocking and returns its attempt id.
func (q *Queue) Submit(t Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	j := job{id: uuid.NewString(), task: t}
	select {
	case q.ch <- j:
		q.logger.Info("queued import attempt", "attempt_id", j.id, "terminology", t.Terminology, "requested_version", t.Version)
		return j.id, nil
	default:
		q.logger.Warn("queue full, rejecting import attempt", "terminology", t.Terminology, "requested_version", t.Version)
		return "", ErrFull
	}
}

// Pending reports how many tasks are waiting for a worker.
func (q *Queue) Pending() int { return len(q.ch) }

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish, or for ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
