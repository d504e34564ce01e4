package log

import "github.com/pkg/errors"

// DefaultMaxRecordSize is the largest record the log accepts in one append or read.
const DefaultMaxRecordSize = 128

// DefaultCapacity is the size of the log buffer, 1 GB.
const DefaultCapacity = 1 << 30

var (
	// ErrOutOfRange is returned for reads before the truncation offset or past the end of the log,
	// and for truncation offsets past the end.
	ErrOutOfRange = errors.New("log offset out of range")
	// ErrRecordTooLarge is returned when a record exceeds the maximum record size.
	ErrRecordTooLarge = errors.New("log record too large")
	// ErrTruncationBackward is returned when the truncation offset would move backward.
	ErrTruncationBackward = errors.New("log truncation offset moved backward")
	// ErrLogFull is returned when an append does not fit in the log capacity.
	ErrLogFull = errors.New("log capacity exhausted")
	// ErrCrashed is returned by every IO once the log has stopped serving requests.
	ErrCrashed = errors.New("log stopped serving requests")
)

// Log is the append-only, offset-addressed log the redo strategies write to.
//
// Offsets are byte positions. Append is atomic: a record is either fully
// appended or not at all. Everything before TruncationOffset may be
// discarded by the implementation and can no longer be read.
type Log interface {
	// Append adds record at the end of the log and returns the end offset
	// before the append.
	Append(record []byte) (int64, error)
	// Read returns size bytes starting at offset.
	Read(offset int64, size int) ([]byte, error)
	// EndOffset returns the offset one past the last appended byte.
	EndOffset() int64
	// TruncationOffset returns the earliest readable offset.
	TruncationOffset() int64
	// SetTruncationOffset moves the truncation offset forward.
	SetTruncationOffset(offset int64) error
	// MaxRecordSize returns the largest record Append and Read accept.
	MaxRecordSize() int
}

// IsCrash reports whether err was caused by the log no longer serving requests.
func IsCrash(err error) bool {
	return errors.Cause(err) == ErrCrashed
}
