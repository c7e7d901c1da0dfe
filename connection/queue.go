package connection

import "sync"

// RetirementQueue holds connections that have been replaced but not yet
// closed, oldest first. It is safe for concurrent use.
type RetirementQueue struct {
	mu    sync.Mutex
	items []*Connection
}

// NewRetirementQueue returns an empty queue.
func NewRetirementQueue() *RetirementQueue {
	return &RetirementQueue{}
}

// Push adds c to the back of the queue.
func (q *RetirementQueue) Push(c *Connection) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Pop removes and returns the oldest connection, or nil if the queue is
// empty.
func (q *RetirementQueue) Pop() *Connection {
	return q.PopIfLongerThan(0)
}

// PopIfLongerThan removes and returns the oldest connection only when more
// than n connections are queued. Checking and popping happen under the same
// lock.
func (q *RetirementQueue) PopIfLongerThan(n int) *Connection {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) <= n {
		return nil
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return c
}

// Len returns the number of queued connections.
func (q *RetirementQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain empties the queue and returns everything that was in it, oldest
// first.
func (q *RetirementQueue) Drain() []*Connection {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
