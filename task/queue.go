package task

import (
	"fmt"
	"sync"
)

// Queue holds tasks awaiting execution. Fresh tasks are appended; failed
// tasks are re-inserted at the front so retries run before new work.
type Queue struct {
	mu    sync.Mutex
	items []*Task
}

func NewQueue() *Queue {
	return &Queue{}
}

// AddToEnd enqueues a task normally. Enqueueing a task that is neither
// New nor Retry is a programming error in the calling code and panics.
func (q *Queue) AddToEnd(t *Task) {
	q.checkQueueable(t)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, t)
}

// AddToBegin puts a task at the front of the queue. Used for retried
// tasks, which are serviced before fresh work.
func (q *Queue) AddToBegin(t *Task) {
	q.checkQueueable(t)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Task{t}, q.items...)
}

// Get dequeues the oldest task, or nil when the queue is empty.
func (q *Queue) Get() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) checkQueueable(t *Task) {
	if !t.IsQueueable() {
		panic(fmt.Sprintf("task %s in state %s cannot be queued", t.ID(), t.State()))
	}
}
