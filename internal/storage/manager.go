package storage

import (
	"math/rand/v2"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"
)

// queuedWrite is a write accepted by QueueWrite and not yet durable.
type queuedWrite struct {
	key   int64
	tag   int64
	value []byte
}

type storedItem struct {
	key int64
	tv  TaggedValue
}

func storedLess(a, b storedItem) bool {
	return a.key < b.key
}

// Manager is an in-memory Storage. Persisted values live in a btree ordered
// by key; queued writes wait in FIFO order until Flush or FlushRandom makes
// them durable and reports them through the PersistFunc. Crash drops every
// write that is still queued.
type Manager struct {
	mu      sync.Mutex
	table   *btree.BTreeG[storedItem]
	queue   []queuedWrite
	persist PersistFunc
	logger  *zap.Logger
}

// NewManager creates an empty storage layer.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		table:  btree.NewG[storedItem](32, storedLess),
		logger: logger,
	}
}

// SetPersistFunc registers the durability callback. It replaces any callback
// registered before, which is how a restarted transaction manager takes over.
func (sm *Manager) SetPersistFunc(fn PersistFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.persist = fn
}

// QueueWrite schedules a write. The value is copied.
func (sm *Manager) QueueWrite(key int64, tag int64, value []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.queue = append(sm.queue, queuedWrite{
		key:   key,
		tag:   tag,
		value: append([]byte(nil), value...),
	})
	return nil
}

// ReadStoredTable returns a copy of the persisted table.
func (sm *Manager) ReadStoredTable() (map[int64]TaggedValue, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make(map[int64]TaggedValue, sm.table.Len())
	sm.table.Ascend(func(it storedItem) bool {
		out[it.key] = TaggedValue{Tag: it.tv.Tag, Value: append([]byte(nil), it.tv.Value...)}
		return true
	})
	return out, nil
}

// Get returns the persisted value of key.
func (sm *Manager) Get(key int64) (TaggedValue, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	it, ok := sm.table.Get(storedItem{key: key})
	return it.tv, ok
}

// Pending returns the number of queued writes not yet durable.
func (sm *Manager) Pending() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.queue)
}

// Flush persists up to n of the oldest queued writes, n < 0 persists all of
// them. It returns how many writes became durable. An error from the
// PersistFunc stops the flush; the write it was reporting stays durable.
func (sm *Manager) Flush(n int) (int, error) {
	return sm.flush(n, func(queue []queuedWrite) int { return 0 })
}

// FlushRandom persists up to n queued writes, choosing the key of each one at
// random. Writes to the same key still become durable in queue order.
func (sm *Manager) FlushRandom(rng *rand.Rand, n int) (int, error) {
	return sm.flush(n, func(queue []queuedWrite) int {
		key := queue[rng.IntN(len(queue))].key
		for i, w := range queue {
			if w.key == key {
				return i
			}
		}
		return 0
	})
}

// Crash drops every queued write, as if the process died before the storage
// layer got to them. It returns the number of writes lost.
func (sm *Manager) Crash() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	lost := len(sm.queue)
	sm.queue = nil
	sm.logger.Info("storage crashed", zap.Int("lost-writes", lost))
	return lost
}

func (sm *Manager) flush(n int, pick func([]queuedWrite) int) (int, error) {
	done := 0
	for n < 0 || done < n {
		w, fn, ok := sm.persistOne(pick)
		if !ok {
			break
		}
		done++
		if fn == nil {
			continue
		}
		if err := fn(w.key, w.tag, w.value); err != nil {
			return done, err
		}
	}
	return done, nil
}

// persistOne moves one queued write into the table. The callback is returned
// instead of being called so it runs without the mutex held.
func (sm *Manager) persistOne(pick func([]queuedWrite) int) (queuedWrite, PersistFunc, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.queue) == 0 {
		return queuedWrite{}, nil, false
	}
	i := pick(sm.queue)
	w := sm.queue[i]
	sm.queue = append(sm.queue[:i], sm.queue[i+1:]...)

	sm.table.ReplaceOrInsert(storedItem{
		key: w.key,
		tv:  TaggedValue{Tag: w.tag, Value: w.value},
	})
	return w, sm.persist, true
}
