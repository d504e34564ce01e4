package storage

// TaggedValue is the latest committed value of a key together with the log
// offset (tag) at which its durable write was queued.
type TaggedValue struct {
	Tag   int64
	Value []byte
}

// Queuer accepts writes to be persisted asynchronously.
type Queuer interface {
	// QueueWrite schedules value to be written to key. The write is tagged
	// with the log offset of the transaction that produced it.
	QueueWrite(key int64, tag int64, value []byte) error
}

// Storage is the base-table storage layer the transaction manager sits on.
type Storage interface {
	Queuer
	// ReadStoredTable returns the durable snapshot of every key.
	ReadStoredTable() (map[int64]TaggedValue, error)
}

// PersistFunc is called once for every queued write that became durable,
// in the order writes to the same key were queued.
type PersistFunc func(key int64, tag int64, value []byte) error

// QueuerFunc adapts a function to the Queuer interface.
type QueuerFunc func(key int64, tag int64, value []byte) error

// QueueWrite calls f(key, tag, value).
func (f QueuerFunc) QueueWrite(key int64, tag int64, value []byte) error {
	return f(key, tag, value)
}
