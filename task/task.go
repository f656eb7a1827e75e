package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("golem/task")

// DefaultMaxRetries bounds how many times a failed task is re-queued
// before it is terminally rejected.
const DefaultMaxRetries = 5

// Worker is the caller-supplied function executed for a task against a
// provider activity.
type Worker func(ctx context.Context, work *WorkContext, data interface{}) (interface{}, error)

// InitWorker runs once per activity before the first task worker on it.
type InitWorker func(ctx context.Context, work *WorkContext) error

// State is a task's lifecycle state.
type State int

const (
	StateNew State = iota
	StateRetry
	StatePending
	StateDone
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateRetry:
		return "Retry"
	case StatePending:
		return "Pending"
	case StateDone:
		return "Done"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// abortError marks a worker failure that must not be retried.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps a worker error so the task is rejected immediately instead
// of being re-queued.
func Abort(err error) error {
	return &abortError{err: err}
}

func isAbort(err error) bool {
	var ae *abortError
	return xerrors.As(err, &ae)
}

// Task is one unit of work. Its worker function is in-process only; tasks
// are not serializable.
type Task struct {
	id         string
	worker     Worker
	data       interface{}
	maxRetries int

	mu      sync.Mutex
	state   State
	retries int
	results interface{}
	err     error

	done chan struct{}
}

// Option tweaks task construction.
type Option func(*Task)

// WithMaxRetries overrides DefaultMaxRetries for one task.
func WithMaxRetries(n int) Option {
	return func(t *Task) { t.maxRetries = n }
}

// New creates a task in the New state.
func New(worker Worker, data interface{}, opts ...Option) *Task {
	t := &Task{
		id:         uuid.New().String(),
		worker:     worker,
		data:       data,
		maxRetries: DefaultMaxRetries,
		state:      StateNew,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Task) ID() string        { return t.id }
func (t *Task) Data() interface{} { return t.data }
func (t *Task) Worker() Worker    { return t.worker }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Results returns the worker's output once the task is Done.
func (t *Task) Results() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.results
}

// Error returns the terminal error of a Rejected task, or the last
// failure of a task awaiting retry.
func (t *Task) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start marks the task Pending for one execution attempt.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StatePending
}

// Complete records a successful result and finishes the task.
func (t *Task) Complete(results interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateDone
	t.results = results
	close(t.done)
}

// Fail records a failed attempt. The task transitions to Retry while the
// failure count stays within maxRetries and the error was not marked
// with Abort; otherwise it is terminally Rejected.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	t.err = err
	if !isAbort(err) && t.retries <= t.maxRetries {
		t.state = StateRetry
		return
	}
	t.state = StateRejected
	close(t.done)
}

// Reject terminally fails the task regardless of the retry budget.
func (t *Task) Reject(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDone || t.state == StateRejected {
		return
	}
	t.state = StateRejected
	t.err = err
	close(t.done)
}

// IsQueueable reports whether the task may legally enter the queue.
func (t *Task) IsQueueable() bool {
	s := t.State()
	return s == StateNew || s == StateRetry
}

func (t *Task) IsRetry() bool    { return t.State() == StateRetry }
func (t *Task) IsDone() bool     { return t.State() == StateDone }
func (t *Task) IsRejected() bool { return t.State() == StateRejected }

// IsFinished reports whether the task reached a terminal state.
func (t *Task) IsFinished() bool {
	s := t.State()
	return s == StateDone || s == StateRejected
}

// Wait blocks until the task finishes and returns its results, or the
// terminal error for a rejected task.
func (t *Task) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRejected {
		return nil, xerrors.Errorf("task %s rejected: %w", t.id, t.err)
	}
	return t.results, nil
}
