package transaction

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/metrics"
	"github.com/yashagw/cranekv/internal/redo"
	"github.com/yashagw/cranekv/internal/storage"
)

var (
	// ErrNotInitialized is returned by operations called before InitAndRecover.
	ErrNotInitialized = errors.New("transaction manager not initialized")
	// ErrAlreadyInitialized is returned by a second InitAndRecover.
	ErrAlreadyInitialized = errors.New("transaction manager already initialized")
)

// Options configures a Manager.
type Options struct {
	// Strategy is the redo log layout, one of redo.Names().
	Strategy      string
	FixedSlotSize int
	Logger        *zap.Logger
}

// Manager buffers the writes of each transaction until commit, then logs
// them to the redo log and hands them to the storage layer.
//
// Manager is not safe for concurrent use: callers serialize every call,
// including the durability callback WritePersisted.
type Manager struct {
	opts   Options
	logger *zap.Logger

	storage  storage.Storage
	log      log.Log
	strategy redo.Strategy

	// latestValues holds the latest committed value of every key.
	latestValues map[int64]storage.TaggedValue
	// writesets holds the buffered writes of open transactions.
	writesets map[int64][]redo.Entry
	started   map[int64]struct{}

	pending *pendingTags
	// maxQueuedTag is the largest tag ever queued to storage, -1 before the
	// first write.
	maxQueuedTag int64
	initialized  bool
}

// NewManager creates a transaction manager. InitAndRecover must be called
// before it serves any transaction.
func NewManager(opts Options) *Manager {
	if opts.Strategy == "" {
		opts.Strategy = redo.NameVariable
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		opts:         opts,
		logger:       opts.Logger,
		writesets:    make(map[int64][]redo.Entry),
		started:      make(map[int64]struct{}),
		pending:      newPendingTags(),
		maxQueuedTag: -1,
	}
}

// InitAndRecover loads the persisted table from sm and replays the committed
// transactions of lm that the table may not reflect yet. Replayed writes are
// queued to sm again.
func (m *Manager) InitAndRecover(sm storage.Storage, lm log.Log) (redo.RecoveryStats, error) {
	if m.initialized {
		return redo.RecoveryStats{}, ErrAlreadyInitialized
	}

	strategy, err := redo.New(m.opts.Strategy, lm, redo.Options{
		FixedSlotSize: m.opts.FixedSlotSize,
		Logger:        m.logger,
	})
	if err != nil {
		return redo.RecoveryStats{}, err
	}

	table, err := sm.ReadStoredTable()
	if err != nil {
		return redo.RecoveryStats{}, errors.Wrap(err, "read stored table")
	}

	m.storage = sm
	m.log = lm
	m.strategy = strategy
	m.latestValues = table

	stats, err := strategy.Recover(storage.QueuerFunc(m.queueWrite), m.latestValues)
	if err != nil {
		return stats, errors.Wrap(err, "recover")
	}
	m.initialized = true
	return stats, nil
}

// Start records the beginning of txID. Nothing is logged: uncommitted work
// never reaches the log.
func (m *Manager) Start(txID int64) {
	m.started[txID] = struct{}{}
}

// Read returns the latest committed value of key. Writes of open
// transactions, txID's own included, are not visible.
func (m *Manager) Read(txID int64, key int64) ([]byte, bool) {
	tv, ok := m.latestValues[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), tv.Value...), true
}

// Write buffers a write of txID. It becomes visible and durable on commit.
func (m *Manager) Write(txID int64, key int64, value []byte) {
	m.writesets[txID] = append(m.writesets[txID], redo.Entry{
		Key:   key,
		Value: append([]byte(nil), value...),
	})
}

// Commit makes the writes of txID visible and durable. A transaction
// without writes commits trivially.
//
// The PREPARE marker, every DATA record and the COMMIT marker are appended
// before any write is made visible or queued to storage, so a crash at any
// point leaves either the whole transaction or none of it for recovery. The
// writeset is dropped even when commit fails; the failed manager is expected
// to be replaced by a recovering one.
func (m *Manager) Commit(txID int64) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	delete(m.started, txID)
	writeset, ok := m.writesets[txID]
	if !ok {
		metrics.TxnCounter.WithLabelValues(metrics.ResultEmpty).Inc()
		return nil
	}
	delete(m.writesets, txID)

	start := time.Now()
	if err := m.commit(txID, writeset); err != nil {
		metrics.TxnCounter.WithLabelValues(metrics.ResultFailed).Inc()
		return err
	}
	metrics.TxnCounter.WithLabelValues(metrics.ResultCommit).Inc()
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (m *Manager) commit(txID int64, writeset []redo.Entry) error {
	tag, err := m.strategy.Prepare(txID)
	if err != nil {
		return err
	}
	for _, e := range writeset {
		if err := m.strategy.WriteRedoLog(e, txID); err != nil {
			return err
		}
	}
	if err := m.strategy.Commit(txID); err != nil {
		return err
	}

	for _, e := range writeset {
		m.latestValues[e.Key] = storage.TaggedValue{Tag: tag, Value: e.Value}
	}
	for _, e := range writeset {
		if err := m.queueWrite(e.Key, tag, e.Value); err != nil {
			return errors.Wrapf(err, "queue key %d of tx %d", e.Key, txID)
		}
	}
	m.logger.Debug("transaction committed",
		zap.Int64("tx", txID),
		zap.Int64("tag", tag),
		zap.Int("writes", len(writeset)))
	return nil
}

// Abort drops the writes of txID. Nothing was logged or made visible, so
// there is nothing to undo.
func (m *Manager) Abort(txID int64) {
	delete(m.started, txID)
	delete(m.writesets, txID)
	metrics.TxnCounter.WithLabelValues(metrics.ResultAbort).Inc()
}

// WritePersisted is the storage layer's durability callback for a write
// queued with persistedTag. Once no write below some tag is outstanding, the
// log before that tag is no longer needed and the strategy may truncate it.
func (m *Manager) WritePersisted(key int64, persistedTag int64, persistedValue []byte) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if !m.pending.release(persistedTag) {
		m.logger.Debug("durability confirmed for unknown write",
			zap.Int64("key", key), zap.Int64("tag", persistedTag))
	}
	metrics.PendingWritesGauge.Set(float64(m.pending.len()))

	safeTag, ok := m.pending.min()
	if !ok {
		safeTag = m.maxQueuedTag
	}
	if safeTag < 0 {
		return nil
	}
	if _, err := m.strategy.UpdateOffsets(safeTag); err != nil {
		return errors.Wrapf(err, "update offsets after key %d tag %d", key, persistedTag)
	}
	return nil
}

// Strategy returns the redo strategy chosen at InitAndRecover.
func (m *Manager) Strategy() redo.Strategy {
	return m.strategy
}

// Active returns the number of started transactions that have neither
// committed nor aborted.
func (m *Manager) Active() int {
	return len(m.started)
}

// PendingWrites returns the number of queued writes not yet confirmed durable.
func (m *Manager) PendingWrites() int {
	return m.pending.len()
}

// queueWrite hands a committed write to storage and tracks it until its
// durability is confirmed.
func (m *Manager) queueWrite(key int64, tag int64, value []byte) error {
	if err := m.storage.QueueWrite(key, tag, value); err != nil {
		return err
	}
	m.pending.add(tag)
	m.maxQueuedTag = max(m.maxQueuedTag, tag)
	metrics.PendingWritesGauge.Set(float64(m.pending.len()))
	return nil
}
