package ingest

import (
	"sync"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// queue is the bounded FIFO the workers pull from. Enqueueing is
// non-blocking and fails with QueueFull at the high-water mark; a batch is
// admitted all-or-nothing so a multi-task submit never lands partially.
//
// Producers serialize on mu for the capacity reservation. Consumers only
// ever remove, so space observed under the mutex cannot shrink before the
// reserved pushes land.
type queue struct {
	mu    sync.Mutex
	tasks chan *UploadTask
}

func newQueue(size int) *queue {
	return &queue{
		tasks: make(chan *UploadTask, size),
	}
}

// push enqueues one task, failing with QueueFull when no space is left.
func (q *queue) push(t *UploadTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.tasks <- t:
		return nil
	default:
		return dserrors.NewQueueFullError(len(q.tasks), cap(q.tasks))
	}
}

// pushAll enqueues every task or none: when fewer than len(batch) slots are
// free the whole batch is rejected with QueueFull.
func (q *queue) pushAll(batch []*UploadTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if free := cap(q.tasks) - len(q.tasks); free < len(batch) {
		return dserrors.NewQueueFullError(len(q.tasks), cap(q.tasks))
	}
	for _, t := range batch {
		q.tasks <- t
	}
	return nil
}

// requeue blocks until the task fits or stop is closed. Used by the retry
// scheduler, which must not drop tasks at the high-water mark.
func (q *queue) requeue(t *UploadTask, stop <-chan struct{}) bool {
	select {
	case q.tasks <- t:
		return true
	case <-stop:
		return false
	}
}

// depth returns the number of queued tasks.
func (q *queue) depth() int {
	return len(q.tasks)
}

// drain empties the queue without processing, returning the removed tasks.
func (q *queue) drain() []*UploadTask {
	var out []*UploadTask
	for {
		select {
		case t := <-q.tasks:
			out = append(out, t)
		default:
			return out
		}
	}
}
