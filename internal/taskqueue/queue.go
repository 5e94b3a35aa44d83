// Package taskqueue is the hand-off point between the accept loop and the
// worker pool: an unbounded FIFO of accepted connections that workers block on.
package taskqueue

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("task queue closed")

// Task is an accepted connection that no worker has picked up yet.
type Task struct {
	Conn       net.Conn
	Addr       string
	AcceptedAt time.Time
}

// NewTask builds a Task for conn, stamping the remote address and accept time.
func NewTask(conn net.Conn) Task {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return Task{Conn: conn, Addr: addr, AcceptedAt: time.Now()}
}

// Queue is a mutex/cond guarded FIFO. Every enqueued task is handed to exactly
// one Dequeue caller, in arrival order.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue // ring buffer of Task; not safe on its own
	closed bool
}

// New returns an empty, open queue.
func New() *Queue {
	q := &Queue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends t and wakes one waiting worker. It never blocks.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items.Add(t)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a task is available and removes it from the head.
// ok is false once the queue is closed.
func (q *Queue) Dequeue() (t Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Re-check after every wake-up: wake-ups can be spurious and several
	// workers may be woken for one task.
	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Task{}, false
	}
	return q.items.Remove().(Task), true
}

// Len reports how many tasks are waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close stops the queue, wakes every waiting worker and returns the tasks that
// were never handed out. The caller owns their connections. Closing twice
// returns nil the second time.
func (q *Queue) Close() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	pending := make([]Task, 0, q.items.Length())
	for q.items.Length() > 0 {
		pending = append(pending, q.items.Remove().(Task))
	}
	q.cond.Broadcast()
	return pending
}
