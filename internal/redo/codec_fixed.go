package redo

import (
	"math"

	"github.com/pkg/errors"
	"github.com/yashagw/cranekv/internal/file"
	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/utils"
)

// DefaultFixedSlotSize is the slot size of the fixed layout.
const DefaultFixedSlotSize = 64

const (
	fixedKindPos    = 0
	fixedChunkPos   = 1
	fixedIDPos      = 2
	fixedLenPos     = 10
	fixedPayloadPos = 12
	// header plus trailing checksum
	fixedOverhead = fixedPayloadPos + 4

	// MaxFixedSlotSize is the largest slot whose payload length fits the
	// 2-byte length field.
	MaxFixedSlotSize = fixedOverhead + math.MaxUint16
)

// fixedCodec stores every record in one slot of slotSize bytes, so records
// sit at a fixed stride from the start of the log.
//
// Slot format: [kind(1)] [chunk(1)] [id(8)] [len(2)] [payload(len)] [padding] [checksum(4)]
//
// id is the transaction id for markers and the key for DATA records. The
// checksum covers everything before it, padding included.
type fixedCodec struct {
	slotSize int
}

func newFixedCodec(slotSize, maxRecordSize int) (*fixedCodec, error) {
	if slotSize <= fixedOverhead || slotSize > min(maxRecordSize, MaxFixedSlotSize) {
		return nil, errors.Errorf("fixed slot size %d must be in (%d, %d]",
			slotSize, fixedOverhead, min(maxRecordSize, MaxFixedSlotSize))
	}
	return &fixedCodec{slotSize: slotSize}, nil
}

func (c *fixedCodec) payloadCapacity() int {
	return c.slotSize - fixedOverhead
}

func (c *fixedCodec) encodeMarker(kind Kind, txID int64) []byte {
	return c.encode(kind, ChunkWhole, txID, nil)
}

func (c *fixedCodec) encodeData(key int64, txID int64, chunk Chunk, payload []byte) []byte {
	return c.encode(KindData, chunk, key, payload)
}

func (c *fixedCodec) encode(kind Kind, chunk Chunk, id int64, payload []byte) []byte {
	page := file.NewPage(c.slotSize)
	page.SetByte(fixedKindPos, byte(kind))
	page.SetByte(fixedChunkPos, byte(chunk))
	page.SetLong(fixedIDPos, id)
	page.SetShort(fixedLenPos, len(payload))
	page.SetBytes(fixedPayloadPos, payload)

	sumPos := c.slotSize - 4
	page.SetUint32(sumPos, utils.Checksum(page.Slice(0, sumPos)))
	return page.Bytes()
}

func (c *fixedCodec) decode(l log.Log, offset, end int64) (Record, error) {
	if offset+int64(c.slotSize) > end {
		return Record{}, errors.Wrapf(ErrTornRecord, "slot at %d cut short by log end %d", offset, end)
	}
	raw, err := l.Read(offset, c.slotSize)
	if err != nil {
		return Record{}, errors.Wrapf(err, "read slot at %d", offset)
	}
	page := file.NewPageFromBytes(raw)

	sumPos := c.slotSize - 4
	if !utils.VerifyChecksum(page.GetUint32(sumPos), page.Slice(0, sumPos)) {
		return Record{}, invalidRecord(offset, c.slotSize, end, "checksum mismatch")
	}

	kind := Kind(page.GetByte(fixedKindPos))
	chunk := Chunk(page.GetByte(fixedChunkPos))
	n := page.GetShort(fixedLenPos)
	if !kind.valid() || !chunk.valid() || n > c.payloadCapacity() {
		return Record{}, invalidRecord(offset, c.slotSize, end, "bad header")
	}

	rec := Record{
		Offset: offset,
		Size:   c.slotSize,
		Kind:   kind,
		Chunk:  chunk,
	}
	id := page.GetLong(fixedIDPos)
	if kind == KindData {
		rec.Key = id
		rec.Payload = page.GetBytes(fixedPayloadPos, n)
	} else {
		rec.TxID = id
		rec.HasTxID = true
	}
	return rec, nil
}
