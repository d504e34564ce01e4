package redo

import "fmt"

// Kind is the type of a redo log record.
type Kind byte

// Record kinds as stored in the log
const (
	KindData    Kind = 0
	KindPrepare Kind = 1
	KindCommit  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindPrepare:
		return "prepare"
	case KindCommit:
		return "commit"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

func (k Kind) valid() bool {
	return k <= KindCommit
}

// Chunk tells which piece of a value a DATA record carries. Values that do
// not fit in one record are split into a First chunk, any number of Middle
// chunks and a Last chunk, written back to back.
type Chunk byte

const (
	ChunkWhole  Chunk = 0
	ChunkFirst  Chunk = 1
	ChunkMiddle Chunk = 2
	ChunkLast   Chunk = 3
)

func (c Chunk) String() string {
	switch c {
	case ChunkWhole:
		return "whole"
	case ChunkFirst:
		return "first"
	case ChunkMiddle:
		return "middle"
	case ChunkLast:
		return "last"
	default:
		return fmt.Sprintf("chunk(%d)", byte(c))
	}
}

func (c Chunk) valid() bool {
	return c <= ChunkLast
}

// Entry is one buffered write of a transaction.
type Entry struct {
	Key   int64
	Value []byte
}

// Record is a decoded redo log record.
type Record struct {
	// Offset is where the record starts in the log, Size how many bytes it occupies.
	Offset int64
	Size   int
	Kind   Kind
	Chunk  Chunk
	// TxID is set for markers, and for DATA records when the layout embeds it.
	TxID    int64
	HasTxID bool
	// Key and Payload are set for DATA records.
	Key     int64
	Payload []byte
}

// Next returns the offset of the record that follows r.
func (r Record) Next() int64 {
	return r.Offset + int64(r.Size)
}

func (r Record) String() string {
	switch r.Kind {
	case KindData:
		if r.HasTxID {
			return fmt.Sprintf("@%d data tx=%d key=%d %s len=%d", r.Offset, r.TxID, r.Key, r.Chunk, len(r.Payload))
		}
		return fmt.Sprintf("@%d data key=%d %s len=%d", r.Offset, r.Key, r.Chunk, len(r.Payload))
	default:
		return fmt.Sprintf("@%d %s tx=%d", r.Offset, r.Kind, r.TxID)
	}
}

// splitValue cuts value into payloads of at most capacity bytes, tagging each
// with its chunk position. An empty value is a single empty Whole chunk.
func splitValue(value []byte, capacity int) ([]Chunk, [][]byte) {
	if len(value) <= capacity {
		return []Chunk{ChunkWhole}, [][]byte{value}
	}
	var (
		chunks   []Chunk
		payloads [][]byte
	)
	for start := 0; start < len(value); start += capacity {
		end := min(start+capacity, len(value))
		switch {
		case start == 0:
			chunks = append(chunks, ChunkFirst)
		case end == len(value):
			chunks = append(chunks, ChunkLast)
		default:
			chunks = append(chunks, ChunkMiddle)
		}
		payloads = append(payloads, value[start:end])
	}
	return chunks, payloads
}
