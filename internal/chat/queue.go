package chat

import "sync"

// eventQueue is an unbounded FIFO of events between the connection's read
// goroutine and the Events channel. Its ring doubles once it reaches 70%
// full, so pushes never block the reader and never drop.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Event
	head   int
	tail   int
	count  int
	closed bool
	grows  int
}

func newEventQueue(capacity int) *eventQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &eventQueue{buf: make([]Event, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends ev. It reports false once the queue is closed.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = ev
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.cond.Signal()
	return true
}

// pop blocks until an event is available. After close it drains what is
// left, then reports false.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return Event{}, false
	}

	ev := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles the ring. Caller holds mu.
func (q *eventQueue) grow() {
	next := make([]Event, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
	q.grows++
}
