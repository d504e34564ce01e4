package redo

import (
	"github.com/pkg/errors"
	"github.com/yashagw/cranekv/internal/log"
)

// Iterator walks redo records forward from a starting offset.
//
// ITERATION STRATEGY:
//   - The end of the log is captured when the iterator is created, records
//     appended later are not visited
//   - Each record's size comes from the record itself, so the next record
//     starts at Offset+Size
//   - A torn record at the end stops the iteration without an error, Torn
//     reports it
type Iterator struct {
	codec codec
	log   log.Log
	pos   int64
	end   int64
	torn  bool
	err   error
}

func newIterator(c codec, l log.Log, from int64) *Iterator {
	return &Iterator{
		codec: c,
		log:   l,
		pos:   from,
		end:   l.EndOffset(),
	}
}

// HasNext returns true if there may be another record to read.
func (it *Iterator) HasNext() bool {
	return it.err == nil && !it.torn && it.pos < it.end
}

// Next decodes the record at the current position and advances past it.
// It returns false once the iteration is over, check Err afterwards.
func (it *Iterator) Next() (Record, bool) {
	if !it.HasNext() {
		return Record{}, false
	}
	rec, err := it.codec.decode(it.log, it.pos, it.end)
	if err != nil {
		if errors.Cause(err) == ErrTornRecord {
			it.torn = true
		} else {
			it.err = err
		}
		return Record{}, false
	}
	it.pos = rec.Next()
	return rec, true
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Torn reports whether the iteration stopped at a torn record.
func (it *Iterator) Torn() bool {
	return it.torn
}

// Pos returns the offset of the next record to decode.
func (it *Iterator) Pos() int64 {
	return it.pos
}
