package redo

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/metrics"
	"github.com/yashagw/cranekv/internal/storage"
)

// Names of the available layouts.
const (
	NameFixed    = "fixed"
	NameVariable = "variable"
	NameTagged   = "tagged"
)

// ErrUnknownStrategy is returned by New for an unsupported layout name.
var ErrUnknownStrategy = errors.New("unknown redo strategy")

// Strategy encodes committing transactions into the redo log, replays the
// log after a crash and decides when a prefix of the log may be discarded.
type Strategy interface {
	// Name returns the layout name.
	Name() string
	// Prepare appends the PREPARE marker of txID and returns its offset,
	// which is the transaction's tag.
	Prepare(txID int64) (int64, error)
	// Commit appends the COMMIT marker of txID.
	Commit(txID int64) error
	// WriteRedoLog appends the DATA record(s) needed to rebuild e.
	WriteRedoLog(e Entry, txID int64) error
	// Recover replays every committed transaction between the truncation
	// offset and the end of the log: each write is queued again and stored
	// in latest.
	Recover(q storage.Queuer, latest map[int64]storage.TaggedValue) (RecoveryStats, error)
	// UpdateOffsets advances the truncation offset to persistedTag when the
	// log before it is no longer needed. It reports whether it truncated.
	UpdateOffsets(persistedTag int64) (bool, error)
	// Iterator returns a forward iterator over the records starting at from.
	Iterator(from int64) *Iterator
}

// Options configures a Strategy.
type Options struct {
	// FixedSlotSize is the slot size of the fixed layout.
	FixedSlotSize int
	Logger        *zap.Logger
}

// Names returns every supported layout name.
func Names() []string {
	return []string{NameFixed, NameVariable, NameTagged}
}

// New creates the strategy called name on top of l.
func New(name string, l log.Log, opts Options) (Strategy, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FixedSlotSize == 0 {
		opts.FixedSlotSize = min(DefaultFixedSlotSize, l.MaxRecordSize())
	}

	var (
		c   codec
		err error
	)
	switch name {
	case NameFixed:
		c, err = newFixedCodec(opts.FixedSlotSize, l.MaxRecordSize())
	case NameVariable:
		c, err = newVariableCodec(false, l.MaxRecordSize())
	case NameTagged:
		c, err = newVariableCodec(true, l.MaxRecordSize())
	default:
		return nil, errors.Wrapf(ErrUnknownStrategy, "%q", name)
	}
	if err != nil {
		return nil, err
	}
	return &strategy{
		name:   name,
		codec:  c,
		log:    l,
		logger: opts.Logger.With(zap.String("strategy", name)),
	}, nil
}

// strategy implements Strategy for every layout; the layouts differ only in
// their codec.
type strategy struct {
	name   string
	codec  codec
	log    log.Log
	logger *zap.Logger
}

func (s *strategy) Name() string {
	return s.name
}

func (s *strategy) Prepare(txID int64) (int64, error) {
	offset, err := s.append(KindPrepare, s.codec.encodeMarker(KindPrepare, txID))
	if err != nil {
		return 0, errors.Wrapf(err, "prepare tx %d", txID)
	}
	return offset, nil
}

func (s *strategy) Commit(txID int64) error {
	if _, err := s.append(KindCommit, s.codec.encodeMarker(KindCommit, txID)); err != nil {
		return errors.Wrapf(err, "commit tx %d", txID)
	}
	return nil
}

func (s *strategy) WriteRedoLog(e Entry, txID int64) error {
	chunks, payloads := splitValue(e.Value, s.codec.payloadCapacity())
	for i, chunk := range chunks {
		rec := s.codec.encodeData(e.Key, txID, chunk, payloads[i])
		if _, err := s.append(KindData, rec); err != nil {
			return errors.Wrapf(err, "redo key %d of tx %d", e.Key, txID)
		}
	}
	return nil
}

func (s *strategy) Iterator(from int64) *Iterator {
	return newIterator(s.codec, s.log, from)
}

func (s *strategy) append(kind Kind, rec []byte) (int64, error) {
	offset, err := s.log.Append(rec)
	if err != nil {
		return 0, err
	}
	metrics.RedoRecordCounter.WithLabelValues(kind.String()).Inc()
	metrics.RedoBytesCounter.Add(float64(len(rec)))
	return offset, nil
}
