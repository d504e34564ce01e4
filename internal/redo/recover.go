package redo

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/metrics"
	"github.com/yashagw/cranekv/internal/storage"
)

// RecoveryStats summarizes one recovery pass.
type RecoveryStats struct {
	// From and To bound the scanned log range.
	From int64
	To   int64
	// Records is the number of records decoded.
	Records int
	// Replayed counts committed transactions applied, Discarded the ones
	// that had a PREPARE but no COMMIT.
	Replayed  int
	Discarded int
	// Writes counts key/value pairs queued again to storage.
	Writes int
	// Torn is set when the last record of the log was incomplete.
	Torn bool
}

// txBuffer holds the DATA records of a transaction until its COMMIT shows up.
type txBuffer struct {
	txID    int64
	tag     int64
	records []Record
}

func (s *strategy) Recover(q storage.Queuer, latest map[int64]storage.TaggedValue) (RecoveryStats, error) {
	stats := RecoveryStats{From: s.log.TruncationOffset()}
	pending := make(map[int64]*txBuffer)
	// current is the transaction opened by the last PREPARE. Layouts that do
	// not embed the transaction id in DATA records attach them to it.
	var current *txBuffer

	it := s.Iterator(stats.From)
	for it.HasNext() {
		rec, ok := it.Next()
		if !ok {
			break
		}
		stats.Records++

		switch rec.Kind {
		case KindPrepare:
			current = &txBuffer{txID: rec.TxID, tag: rec.Offset}
			pending[rec.TxID] = current
		case KindData:
			buf := current
			if rec.HasTxID {
				buf = pending[rec.TxID]
			}
			if buf == nil {
				s.logger.Warn("redo record without prepare", zap.Stringer("record", rec))
				continue
			}
			buf.records = append(buf.records, rec)
		case KindCommit:
			buf, ok := pending[rec.TxID]
			if !ok {
				continue
			}
			delete(pending, rec.TxID)
			if buf == current {
				current = nil
			}
			n, err := s.replay(buf, q, latest)
			if err != nil {
				return stats, err
			}
			stats.Replayed++
			stats.Writes += n
		}
	}
	if err := it.Err(); err != nil {
		return stats, errors.Wrap(err, "scan redo log")
	}

	stats.To = it.Pos()
	stats.Torn = it.Torn()
	stats.Discarded = len(pending)
	if stats.Torn {
		s.logger.Warn("discarded torn record at log end", zap.Int64("offset", stats.To))
	}
	for txID := range pending {
		s.logger.Info("discarded uncommitted transaction", zap.Int64("tx", txID))
	}

	metrics.RecoveryCounter.WithLabelValues(metrics.OutcomeReplayed).Add(float64(stats.Replayed))
	metrics.RecoveryCounter.WithLabelValues(metrics.OutcomeDiscarded).Add(float64(stats.Discarded))
	s.logger.Info("redo log recovered",
		zap.Int64("from", stats.From),
		zap.Int64("to", stats.To),
		zap.Int("records", stats.Records),
		zap.Int("replayed", stats.Replayed),
		zap.Int("discarded", stats.Discarded),
		zap.Int("writes", stats.Writes))
	return stats, nil
}

// replay applies the buffered records of a committed transaction in log
// order, joining chunked values back together. It returns the number of
// writes applied.
func (s *strategy) replay(buf *txBuffer, q storage.Queuer, latest map[int64]storage.TaggedValue) (int, error) {
	var (
		applied    int
		assembling bool
		key        int64
		value      []byte
	)
	put := func(key int64, value []byte) error {
		if err := q.QueueWrite(key, buf.tag, value); err != nil {
			return errors.Wrapf(err, "requeue key %d of tx %d", key, buf.txID)
		}
		latest[key] = storage.TaggedValue{Tag: buf.tag, Value: value}
		applied++
		return nil
	}

	for _, rec := range buf.records {
		switch rec.Chunk {
		case ChunkWhole:
			if assembling {
				return applied, errors.Wrapf(ErrMalformedRecord, "%s: chunked value of key %d left unfinished", rec, key)
			}
			if err := put(rec.Key, rec.Payload); err != nil {
				return applied, err
			}
		case ChunkFirst:
			if assembling {
				return applied, errors.Wrapf(ErrMalformedRecord, "%s: chunked value of key %d left unfinished", rec, key)
			}
			assembling, key = true, rec.Key
			value = append([]byte(nil), rec.Payload...)
		case ChunkMiddle, ChunkLast:
			if !assembling || rec.Key != key {
				return applied, errors.Wrapf(ErrMalformedRecord, "%s: continuation without a first chunk", rec)
			}
			value = append(value, rec.Payload...)
			if rec.Chunk == ChunkLast {
				assembling = false
				if err := put(key, value); err != nil {
					return applied, err
				}
				value = nil
			}
		}
	}
	if assembling {
		return applied, errors.Wrapf(ErrMalformedRecord, "tx %d: chunked value of key %d left unfinished", buf.txID, key)
	}
	return applied, nil
}
