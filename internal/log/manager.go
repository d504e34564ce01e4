package log

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Options configures a Manager.
type Options struct {
	// Capacity bounds the total number of bytes ever appended.
	Capacity int64
	// MaxRecordSize bounds a single append or read.
	MaxRecordSize int
	// BlockSize is the block size of the files written by Open.
	BlockSize int
	Logger    *zap.Logger
}

// Manager is a Log kept in one growing in-memory buffer, optionally mirrored
// to block files by Open. It supports crash injection: after a configured
// number of IOs it stops serving requests until Resume is called. The
// contents survive a crash, the way a durable log device would.
type Manager struct {
	mu            sync.Mutex
	buf           []byte
	capacity      int64
	maxRecordSize int
	logger        *zap.Logger

	end        *atomic.Int64
	truncation *atomic.Int64
	// store is nil for a log that lives in memory only.
	store *fileStore

	reads  int
	writes int

	// iosBeforeCrash counts down on every IO while crashArmed is set; the
	// IO that finds it at zero fails and the manager stops serving.
	iosBeforeCrash int
	crashArmed     bool
	serving        bool
}

// NewManager creates an empty in-memory log.
func NewManager(opts Options) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxRecordSize <= 0 {
		opts.MaxRecordSize = DefaultMaxRecordSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		capacity:      opts.Capacity,
		maxRecordSize: opts.MaxRecordSize,
		logger:        opts.Logger,
		end:           atomic.NewInt64(0),
		truncation:    atomic.NewInt64(0),
		serving:       true,
	}
}

// Open opens the log kept in dir, creating it if dir holds none. Every append
// and truncation is written through to disk before it returns.
func Open(dir string, opts Options) (*Manager, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	store, err := newFileStore(dir, opts.BlockSize)
	if err != nil {
		return nil, err
	}
	buf, end, truncation, err := store.load()
	if err != nil {
		store.close()
		return nil, errors.Wrapf(err, "open log in %s", dir)
	}

	lm := NewManager(opts)
	if end > lm.capacity {
		store.close()
		return nil, errors.Wrapf(ErrLogFull, "log in %s holds %d bytes, capacity is %d", dir, end, lm.capacity)
	}
	lm.buf = buf
	lm.end.Store(end)
	lm.truncation.Store(truncation)
	lm.store = store
	lm.logger.Info("log opened",
		zap.String("dir", dir),
		zap.Int64("end", end),
		zap.Int64("truncation", truncation))
	return lm, nil
}

// Close releases the files of a log created by Open.
func (lm *Manager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.store == nil {
		return nil
	}
	err := lm.store.close()
	lm.store = nil
	return err
}

// EndOffset returns the offset one past the last appended byte.
func (lm *Manager) EndOffset() int64 {
	return lm.end.Load()
}

// TruncationOffset returns the earliest readable offset.
func (lm *Manager) TruncationOffset() int64 {
	return lm.truncation.Load()
}

// MaxRecordSize returns the largest record Append and Read accept.
func (lm *Manager) MaxRecordSize() int {
	return lm.maxRecordSize
}

// Append adds a record to the end of the log and returns the end offset
// as it was before the append.
func (lm *Manager) Append(record []byte) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.checkServing(); err != nil {
		return 0, err
	}
	if len(record) > lm.maxRecordSize {
		return 0, errors.Wrapf(ErrRecordTooLarge, "record length %d greater than maximum allowed length %d",
			len(record), lm.maxRecordSize)
	}

	prior := lm.end.Load()
	if prior+int64(len(record)) > lm.capacity {
		return 0, errors.Wrapf(ErrLogFull, "appending %d bytes at offset %d", len(record), prior)
	}

	lm.writes++
	lm.buf = append(lm.buf, record...)
	if err := lm.persist(prior); err != nil {
		lm.buf = lm.buf[:prior]
		return 0, err
	}
	lm.end.Store(prior + int64(len(record)))
	return prior, nil
}

// AppendPartial simulates a crash in the middle of an append: the first n
// bytes of record reach the buffer (and the data file of a log opened with
// Open), then the log stops serving. The append is never acknowledged, so
// EndOffset does not move and Resume discards the bytes.
func (lm *Manager) AppendPartial(record []byte, n int) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.checkServing(); err != nil {
		return 0, err
	}
	n = min(n, len(record))
	prior := lm.end.Load()
	lm.writes++
	lm.buf = append(lm.buf, record[:n]...)
	if lm.store != nil {
		if err := lm.store.writeData(lm.buf, prior); err != nil {
			lm.buf = lm.buf[:prior]
			return 0, errors.Wrapf(err, "persist partial append at offset %d", prior)
		}
	}
	lm.serving = false
	return prior, ErrCrashed
}

// Read returns a copy of size bytes starting at offset.
func (lm *Manager) Read(offset int64, size int) ([]byte, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.checkServing(); err != nil {
		return nil, err
	}
	truncation, end := lm.truncation.Load(), lm.end.Load()
	if size < 0 || offset < truncation || offset+int64(size) > end {
		return nil, errors.Wrapf(ErrOutOfRange, "offset %d invalid: log start offset is %d, log end offset is %d",
			offset+int64(size), truncation, end)
	}
	if size > lm.maxRecordSize {
		return nil, errors.Wrapf(ErrRecordTooLarge, "record length %d greater than maximum allowed length %d",
			size, lm.maxRecordSize)
	}

	lm.reads++
	out := make([]byte, size)
	copy(out, lm.buf[offset:offset+int64(size)])
	return out, nil
}

// SetTruncationOffset moves the truncation offset forward. It may not move
// backward or past the end of the log.
func (lm *Manager) SetTruncationOffset(offset int64) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	current, end := lm.truncation.Load(), lm.end.Load()
	if offset > end {
		return errors.Wrapf(ErrOutOfRange, "truncation offset %d past log end %d", offset, end)
	}
	if offset < current {
		return errors.Wrapf(ErrTruncationBackward, "truncation offset %d below current %d", offset, current)
	}
	if lm.store != nil {
		if err := lm.store.writeMeta(end, offset); err != nil {
			return errors.Wrapf(err, "persist truncation offset %d", offset)
		}
	}
	lm.truncation.Store(offset)
	lm.logger.Debug("log truncated", zap.Int64("offset", offset))
	return nil
}

// CrashAfter lets the log serve n more IOs, after which every IO fails with
// ErrCrashed. n <= 0 crashes immediately.
func (lm *Manager) CrashAfter(n int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if n <= 0 {
		lm.serving = false
		lm.crashArmed = false
		return
	}
	lm.iosBeforeCrash = n
	lm.crashArmed = true
}

// Resume makes a crashed log serve requests again, as after a restart.
// Bytes of an append that was cut short are dropped.
func (lm *Manager) Resume() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	end := lm.end.Load()
	if discarded := int64(len(lm.buf)) - end; discarded > 0 {
		lm.buf = lm.buf[:end]
		lm.logger.Info("discarded unacknowledged append", zap.Int64("end", end), zap.Int64("bytes", discarded))
	}
	lm.serving = true
	lm.crashArmed = false
	lm.iosBeforeCrash = 0
}

// Serving reports whether the log currently serves requests.
func (lm *Manager) Serving() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.serving
}

// IOCount returns the number of reads and appends served so far.
func (lm *Manager) IOCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.reads + lm.writes
}

// persist writes the bytes appended since prior through to disk. It assumes
// that the mutex is already locked.
func (lm *Manager) persist(prior int64) error {
	if lm.store == nil {
		return nil
	}
	if err := lm.store.write(lm.buf, prior, lm.truncation.Load()); err != nil {
		return errors.Wrapf(err, "persist append at offset %d", prior)
	}
	return nil
}

// checkServing is an internal method that accounts one IO against the crash
// budget. It assumes that the mutex is already locked.
func (lm *Manager) checkServing() error {
	if !lm.serving {
		return ErrCrashed
	}
	if lm.crashArmed {
		if lm.iosBeforeCrash == 0 {
			lm.serving = false
			lm.crashArmed = false
			lm.logger.Info("log stopped serving requests", zap.Int64("end", lm.end.Load()))
			return ErrCrashed
		}
		lm.iosBeforeCrash--
	}
	return nil
}
