package redo

import (
	"github.com/pkg/errors"
	"github.com/yashagw/cranekv/internal/log"
)

var (
	// ErrMalformedRecord is returned when a record in the middle of the log
	// cannot be decoded.
	ErrMalformedRecord = errors.New("malformed redo record")
	// ErrTornRecord marks the last record of the log as incomplete, the
	// footprint of a crash in the middle of an append. Scans stop there and
	// discard it.
	ErrTornRecord = errors.New("torn redo record at log end")
)

// codec is one on-log layout of redo records.
type codec interface {
	// payloadCapacity is the largest value chunk one DATA record carries.
	payloadCapacity() int
	encodeMarker(kind Kind, txID int64) []byte
	encodeData(key int64, txID int64, chunk Chunk, payload []byte) []byte
	// decode reads the record starting at offset. Only bytes before end are
	// considered part of the log.
	decode(l log.Log, offset, end int64) (Record, error)
}

// invalidRecord classifies a record that failed validation: a record that
// reaches the end of the log is a torn tail, anything else is corruption.
func invalidRecord(offset int64, size int, end int64, reason string) error {
	if offset+int64(size) >= end {
		return errors.Wrapf(ErrTornRecord, "record at %d: %s", offset, reason)
	}
	return errors.Wrapf(ErrMalformedRecord, "record at %d: %s", offset, reason)
}
