package redo

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/metrics"
)

// UpdateOffsets truncates the log at persistedTag once the transaction whose
// PREPARE sits there is known to be committed. Everything before that
// PREPARE is then redundant: the caller only passes tags below which every
// write is durable in the base table.
//
// The forward search for the COMMIT gives up at the first PREPARE of another
// transaction; an unfinished transaction in between blocks truncation.
func (s *strategy) UpdateOffsets(persistedTag int64) (bool, error) {
	truncation, end := s.log.TruncationOffset(), s.log.EndOffset()
	if persistedTag <= truncation || persistedTag >= end {
		return false, nil
	}

	it := s.Iterator(persistedTag)
	prepare, ok := it.Next()
	if !ok {
		if err := it.Err(); err != nil {
			return false, errors.Wrapf(err, "read prepare at %d", persistedTag)
		}
		return false, nil
	}
	if prepare.Kind != KindPrepare {
		s.logger.Warn("persisted tag does not point at a prepare", zap.Stringer("record", prepare))
		return false, nil
	}

	committed := false
	for it.HasNext() {
		rec, ok := it.Next()
		if !ok {
			break
		}
		if rec.Kind == KindPrepare {
			break
		}
		if rec.Kind == KindCommit && rec.TxID == prepare.TxID {
			committed = true
			break
		}
	}
	if err := it.Err(); err != nil {
		return false, errors.Wrapf(err, "search commit of tx %d", prepare.TxID)
	}
	if !committed {
		return false, nil
	}

	if err := s.log.SetTruncationOffset(persistedTag); err != nil {
		return false, errors.Wrapf(err, "truncate log at %d", persistedTag)
	}
	metrics.TruncationOffsetGauge.Set(float64(persistedTag))
	s.logger.Debug("redo log truncated", zap.Int64("offset", persistedTag), zap.Int64("tx", prepare.TxID))
	return true, nil
}
