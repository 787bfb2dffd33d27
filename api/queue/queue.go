package queue

// Backlog defines an interface for the FIFO holding selection cases that arrived
// while another case was already open.  At most one consumer drains it (the gate),
// so Size checks before Dequeue are race-free in practice.
type Backlog interface {
	Enqueue(x interface{}) (bool, error)
	EnqueueHashed(key int, x interface{}) (bool, error)
	Dequeue() (interface{}, error)
	Clear() error
	Close() error
	Size() int
	GetAll() ([]interface{}, error)
}

// queuedCase wraps a backlog entry with the idempotency key used to keep a date
// from being queued twice.
type queuedCase struct {
	Key   int
	Value interface{}
}
