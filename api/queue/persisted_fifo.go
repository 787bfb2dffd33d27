package queue

import (
	"os"
	"path"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/uncharted-causemos/dque"
)

const queueSegmentSize = 50

// PersistedBacklog is a Backlog implementation backed by an on-disk queue, so
// selection cases pending a human decision survive a restart.
type PersistedBacklog struct {
	queue  *dque.DQue
	size   int
	hashes map[int]bool
	mutex  *sync.RWMutex
}

func queuedCaseBuilder() interface{} {
	return &queuedCase{}
}

// KeyMapBuilder stores the backlog idempotency keys that are deserialized from the
// persisted dque on startup.
type KeyMapBuilder struct {
	KeyMap map[int]bool
}

// Apply is called on each item of the persisted backlog when it is loaded from
// disk, storing the returned idempotency keys in an in-memory set.
func (k *KeyMapBuilder) Apply(entry interface{}) error {
	item, ok := entry.(*queuedCase)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	k.KeyMap[item.Key] = true
	return nil
}

// NewPersistedBacklog creates a new PersistedBacklog that is immediately ready to
// receive enqueue requests.  The size of the backlog is limited by the `size`
// parameter.
func NewPersistedBacklog(size int, queueDir string, queueName string) (Backlog, error) {
	mutex := &sync.RWMutex{}

	queuePath := path.Join(queueDir, queueName)

	var backing *dque.DQue
	if _, err := os.Stat(queuePath); err != nil {
		if os.IsNotExist(err) {
			err = os.MkdirAll(queueDir, os.ModePerm)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create backlog dir %s", queueDir)
			}

			backing, err = dque.New(queueName, queueDir, queueSegmentSize, queuedCaseBuilder)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to initialize backlog %s/%s", queueDir, queueName)
			}
		}
	} else {
		backing, err = dque.Open(queueName, queueDir, queueSegmentSize, queuedCaseBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load backlog %s/%s", queueDir, queueName)
		}
	}

	mapBuilder := KeyMapBuilder{KeyMap: map[int]bool{}}
	err := backing.ApplyToQueue(&mapBuilder)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to rebuild key set for %s/%s", queueDir, queueName)
	}

	backlog := &PersistedBacklog{
		queue:  backing,
		size:   size,
		hashes: mapBuilder.KeyMap,
		mutex:  mutex,
	}

	return backlog, nil
}

// Enqueue adds a new item to the backlog.  If the backlog is full, the item will
// not be added, and the function will return `false`.
func (r *PersistedBacklog) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.queue.Size() < r.size {
		if err := r.queue.Enqueue(&queuedCase{Value: x}); err != nil {
			return false, errors.Wrap(err, "failed to enqueue")
		}
		return true, nil
	}
	return false, nil
}

// EnqueueHashed adds a new item to the backlog if an item with the same key isn't
// already queued.  If the backlog is full, the item will not be added, and the
// function will return `false`.  If an entry already exists, the item won't be
// added, but true will still be returned.
func (r *PersistedBacklog) EnqueueHashed(key int, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.hashes[key] {
		if r.queue.Size() < r.size {
			if err := r.queue.Enqueue(&queuedCase{Value: x, Key: key}); err != nil {
				return false, errors.Wrap(err, "failed to enqueue with hash key")
			}
			r.hashes[key] = true
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

// Dequeue removes an item from the backlog.  If the backlog is empty, the
// operation blocks.
func (r *PersistedBacklog) Dequeue() (interface{}, error) {
	result, err := r.queue.DequeueBlock()
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue")
	}

	value := result.(*queuedCase)

	delete(r.hashes, value.Key)

	return value.Value, nil
}

// Size returns the current size of the backlog.
func (r *PersistedBacklog) Size() int {
	return r.queue.Size()
}

// Clear clears the backlog.
func (r *PersistedBacklog) Clear() error {
	// the underlying queue has no clear function so our only option is to drain it
	// iteratively
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// clear the key map
	r.hashes = map[int]bool{}

	count := r.queue.Size()
	for i := 0; i < count; i++ {
		_, err := r.queue.Dequeue()
		if err != nil {
			return errors.Wrap(err, "failed to clear backlog")
		}
	}

	return nil
}

// Close closes the backlog, flushes state to disk, and disallows any further
// operations.
func (r *PersistedBacklog) Close() error {
	return errors.Wrap(r.queue.Close(), "failed to close backlog")
}

// Contents is used to extract items in the persisted backlog.
type Contents struct {
	Cases []interface{}
	Index int
}

// Apply is called on each element of the backlog each time its contents must be
// read.
func (q *Contents) Apply(entry interface{}) error {
	item, ok := entry.(*queuedCase)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	q.Cases[q.Index] = item.Value
	q.Index++

	return nil
}

// GetAll retrieves all of the contents in the backlog.
func (r *PersistedBacklog) GetAll() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	queueContents := Contents{Cases: make([]interface{}, r.queue.Size()), Index: 0}
	err := r.queue.ApplyToQueue(&queueContents)
	if err != nil {
		return nil, err
	}
	return queueContents.Cases, nil
}
