package queue

import (
	"container/list"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ListBacklog is a Backlog implementation based on a doubly linked list.  Contents
// do not survive a restart.
type ListBacklog struct {
	queue  *list.List
	hashes map[int]bool
	size   int
	closed bool
	mutex  *sync.RWMutex
	cond   *sync.Cond
}

// NewListBacklog creates a new ListBacklog that is immediately ready to receive
// enqueue requests.  The size of the backlog is limited by the `size` parameter.
func NewListBacklog(size int) Backlog {
	mutex := &sync.RWMutex{}

	backlog := &ListBacklog{
		queue:  list.New(),
		hashes: map[int]bool{},
		size:   size,
		closed: false,
		mutex:  mutex,
		cond:   sync.NewCond(mutex),
	}

	return backlog
}

// Enqueue adds a new item to the backlog.  If the backlog is full, the item will
// not be added, and the function will return `false`.
func (r *ListBacklog) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no enqueue after close")
	}

	if r.queue.Len() < r.size {
		r.queue.PushBack(&queuedCase{Value: x})
		r.cond.Signal()
		return true, nil
	}
	return false, nil
}

// EnqueueHashed adds a new item to the backlog if an item with the same key isn't
// already queued.  If the backlog is full, the item will not be added, and the
// function will return `false`.
func (r *ListBacklog) EnqueueHashed(key int, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no enqueue after close")
	}

	if !r.hashes[key] {
		if r.queue.Len() < r.size {
			r.queue.PushBack(&queuedCase{Value: x, Key: key})
			r.hashes[key] = true
			// signal that there's data available
			r.cond.Signal()
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

// Dequeue removes an item from the backlog.  If the backlog is empty, the
// operation blocks.
func (r *ListBacklog) Dequeue() (interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no dequeue after close")
	}

	// wait until there's data
	for r.queue.Len() == 0 {
		r.cond.Wait()
	}

	result := r.queue.Front()
	value := result.Value.(*queuedCase)

	// remove the item from the backlog and the hash set if necessary
	r.queue.Remove(result)
	if r.hashes[value.Key] {
		delete(r.hashes, value.Key)
	}

	return value.Value, nil
}

// Size returns the current size of the backlog.
func (r *ListBacklog) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.queue.Len()
}

// Clear clears the backlog and its key hash map.
func (r *ListBacklog) Clear() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no backlog clear after close")
	}

	r.queue.Init()
	r.hashes = map[int]bool{}

	return nil
}

// Close closes the backlog forbidding further operations.
func (r *ListBacklog) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no close of previously closed backlog")
	}

	r.closed = true
	return nil
}

// GetAll retrieves all the contents in the backlog.
func (r *ListBacklog) GetAll() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	listCopy := make([]interface{}, r.queue.Len())
	current := r.queue.Front()
	i := 0
	for current != nil {
		item, ok := current.Value.(*queuedCase)
		if !ok {
			return nil, errors.Errorf("unexpected type %s", reflect.TypeOf(item))
		}
		listCopy[i] = item.Value
		i++
		current = current.Next()
	}
	return listCopy, nil
}
