package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/smnsjas/go-nvimcore/wire"
)

// messageQueue is an unbounded FIFO of inbound messages. The reader pump
// pushes, the loop (or NextMessage) pops. Unbounded on purpose: the pump
// must never stall behind a slow consumer, or responses to concurrent
// requests would stop flowing.
type messageQueue struct {
	mu    sync.Mutex
	items []*wire.Message
	c     chan struct{} // capacity 1, signaled on push
}

func newMessageQueue() *messageQueue {
	return &messageQueue{c: make(chan struct{}, 1)}
}

func (q *messageQueue) push(m *wire.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.c <- struct{}{}:
	default:
	}
}

// pop returns the oldest queued message, if any. The signal channel may
// lag behind the queue contents, so consumers must pop until empty before
// blocking on c again.
func (q *messageQueue) pop() (*wire.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

// task is one deferred unit of work submitted via Schedule, tagged with
// an id and the capture of its scheduling site for failure reports.
type task struct {
	id   uuid.UUID
	fn   func()
	site string
}

// taskQueue is the FIFO of deferred tasks, drained exclusively by the
// loop goroutine. Same discipline as messageQueue.
type taskQueue struct {
	mu    sync.Mutex
	items []task
	c     chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{c: make(chan struct{}, 1)}
}

func (q *taskQueue) push(t task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.c <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return task{}, false
	}
	t := q.items[0]
	q.items[0] = task{}
	q.items = q.items[1:]
	return t, true
}
