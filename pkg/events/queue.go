package events

import "sync"

// Queue is a FIFO of Messages safe for use from any goroutine. Enqueue never
// blocks beyond acquiring the internal lock.
type Queue struct {
	mu    sync.Mutex
	items []Message
	head  int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends msg to the tail of the queue
func (q *Queue) Enqueue(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// Pop removes and returns the oldest message.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return nil, false
	}
	msg := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return msg, true
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Snapshot returns the pending messages in FIFO order without removing them.
func (q *Queue) Snapshot() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	return out
}
