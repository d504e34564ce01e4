package redo

import (
	"github.com/pkg/errors"
	"github.com/yashagw/cranekv/internal/file"
	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/utils"
)

const (
	varLenSize  = 4
	varKindPos  = varLenSize
	varChunkPos = varKindPos + 1
	varIDPos    = varChunkPos + 1
	varBodyPos  = varIDPos + 8
	// kind, chunk, id and checksum
	varMinBody = 1 + 1 + 8 + 4
	// leading and trailing length
	varFraming = 2 * varLenSize
)

// variableCodec stores one key/value chunk per self-describing record.
//
// Record format: [len(4)] [kind(1)] [chunk(1)] [id(8)] [key(8)]? [payload] [checksum(4)] [len(4)]
//
// len counts the bytes from kind through checksum and is repeated after the
// record, so a reader can validate the frame and a backward reader can find
// the previous record. id is the transaction id for markers. For DATA records
// it is the key, unless withTxID is set: then id is the transaction id and
// the key follows it.
type variableCodec struct {
	withTxID      bool
	maxRecordSize int
}

func newVariableCodec(withTxID bool, maxRecordSize int) (*variableCodec, error) {
	c := &variableCodec{withTxID: withTxID, maxRecordSize: maxRecordSize}
	if c.payloadCapacity() <= 0 {
		return nil, errors.Errorf("max record size %d leaves no room for a payload", maxRecordSize)
	}
	return c, nil
}

func (c *variableCodec) dataOverhead() int {
	if c.withTxID {
		return varFraming + varMinBody + 8
	}
	return varFraming + varMinBody
}

func (c *variableCodec) payloadCapacity() int {
	return c.maxRecordSize - c.dataOverhead()
}

func (c *variableCodec) encodeMarker(kind Kind, txID int64) []byte {
	page := c.frame(kind, ChunkWhole, txID, 0)
	c.seal(page)
	return page.Bytes()
}

func (c *variableCodec) encodeData(key int64, txID int64, chunk Chunk, payload []byte) []byte {
	if !c.withTxID {
		page := c.frame(KindData, chunk, key, len(payload))
		page.SetBytes(varBodyPos, payload)
		c.seal(page)
		return page.Bytes()
	}
	page := c.frame(KindData, chunk, txID, 8+len(payload))
	page.SetLong(varBodyPos, key)
	page.SetBytes(varBodyPos+8, payload)
	c.seal(page)
	return page.Bytes()
}

// frame allocates a record with room for extra body bytes after the id and
// fills in both length fields and the fixed header.
func (c *variableCodec) frame(kind Kind, chunk Chunk, id int64, extra int) *file.Page {
	bodyLen := varMinBody + extra
	page := file.NewPage(varFraming + bodyLen)
	page.SetInt(0, bodyLen)
	page.SetByte(varKindPos, byte(kind))
	page.SetByte(varChunkPos, byte(chunk))
	page.SetLong(varIDPos, id)
	page.SetInt(varLenSize+bodyLen, bodyLen)
	return page
}

// seal writes the checksum over kind..payload.
func (c *variableCodec) seal(page *file.Page) {
	sumPos := page.Len() - varLenSize - 4
	page.SetUint32(sumPos, utils.Checksum(page.Slice(varKindPos, sumPos)))
}

func (c *variableCodec) decode(l log.Log, offset, end int64) (Record, error) {
	if offset+varLenSize > end {
		return Record{}, errors.Wrapf(ErrTornRecord, "length field at %d cut short by log end %d", offset, end)
	}
	head, err := l.Read(offset, varLenSize)
	if err != nil {
		return Record{}, errors.Wrapf(err, "read record length at %d", offset)
	}
	bodyLen := file.NewPageFromBytes(head).GetInt(0)
	size := varFraming + bodyLen
	if bodyLen < varMinBody || size > c.maxRecordSize {
		return Record{}, invalidRecord(offset, varLenSize, end, "bad length")
	}
	if offset+int64(size) > end {
		return Record{}, errors.Wrapf(ErrTornRecord, "record at %d of %d bytes cut short by log end %d", offset, size, end)
	}

	raw, err := l.Read(offset, size)
	if err != nil {
		return Record{}, errors.Wrapf(err, "read record at %d", offset)
	}
	page := file.NewPageFromBytes(raw)

	sumPos := size - varLenSize - 4
	if page.GetInt(size-varLenSize) != bodyLen {
		return Record{}, invalidRecord(offset, size, end, "trailing length mismatch")
	}
	if !utils.VerifyChecksum(page.GetUint32(sumPos), page.Slice(varKindPos, sumPos)) {
		return Record{}, invalidRecord(offset, size, end, "checksum mismatch")
	}

	kind := Kind(page.GetByte(varKindPos))
	chunk := Chunk(page.GetByte(varChunkPos))
	if !kind.valid() || !chunk.valid() {
		return Record{}, invalidRecord(offset, size, end, "bad header")
	}

	rec := Record{
		Offset: offset,
		Size:   size,
		Kind:   kind,
		Chunk:  chunk,
	}
	id := page.GetLong(varIDPos)
	if kind != KindData {
		rec.TxID = id
		rec.HasTxID = true
		return rec, nil
	}

	payloadPos := varBodyPos
	if c.withTxID {
		if bodyLen < varMinBody+8 {
			return Record{}, invalidRecord(offset, size, end, "data record too short for key")
		}
		rec.TxID = id
		rec.HasTxID = true
		rec.Key = page.GetLong(varBodyPos)
		payloadPos += 8
	} else {
		rec.Key = id
	}
	rec.Payload = page.GetBytes(payloadPos, sumPos-payloadPos)
	return rec, nil
}
