package live

// EventQueue is a FIFO of pending outbound frames. It is not safe for
// concurrent use; Channel serializes access.
type EventQueue struct {
	items [][]byte
}

// NewEventQueue creates an empty queue
func NewEventQueue() *EventQueue {
	return &EventQueue{items: make([][]byte, 0, 64)}
}

// Push appends a frame at the tail
func (q *EventQueue) Push(msg []byte) {
	q.items = append(q.items, msg)
}

// Pop removes and returns the head frame
func (q *EventQueue) Pop() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, true
}

// Peek returns the head frame without removing it
func (q *EventQueue) Peek() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Len returns the number of pending frames
func (q *EventQueue) Len() int {
	return len(q.items)
}

// Snapshot returns the pending frames in order
func (q *EventQueue) Snapshot() [][]byte {
	out := make([][]byte, len(q.items))
	copy(out, q.items)
	return out
}
