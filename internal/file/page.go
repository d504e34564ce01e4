package file

import (
	"encoding/binary"
)

// Page is a fixed-size byte buffer with big-endian accessors.
// Log records are assembled in a Page before being appended and decoded
// from a Page after being read back.
type Page struct {
	bytes []byte
}

// NewPage creates a zeroed page of the given size
func NewPage(size int) *Page {
	return &Page{
		bytes: make([]byte, size),
	}
}

// NewPageFromBytes wraps an existing byte slice without copying it
func NewPageFromBytes(b []byte) *Page {
	return &Page{
		bytes: b,
	}
}

// Bytes returns the underlying byte array
func (p *Page) Bytes() []byte {
	return p.bytes
}

// Len returns the size of the page in bytes
func (p *Page) Len() int {
	return len(p.bytes)
}

// GetByte reads a single byte from the specified offset
func (p *Page) GetByte(offset int) byte {
	return p.bytes[offset]
}

// SetByte writes a single byte at the specified offset
func (p *Page) SetByte(offset int, val byte) {
	p.bytes[offset] = val
}

// GetShort reads an unsigned 16-bit integer from the specified offset
func (p *Page) GetShort(offset int) int {
	return int(binary.BigEndian.Uint16(p.bytes[offset : offset+2]))
}

// SetShort writes an unsigned 16-bit integer at the specified offset
func (p *Page) SetShort(offset int, val int) {
	binary.BigEndian.PutUint16(p.bytes[offset:offset+2], uint16(val))
}

// GetInt reads an integer from the specified offset
func (p *Page) GetInt(offset int) int {
	return int(binary.BigEndian.Uint32(p.bytes[offset : offset+4]))
}

// SetInt writes an integer at the specified offset
func (p *Page) SetInt(offset int, val int) {
	binary.BigEndian.PutUint32(p.bytes[offset:offset+4], uint32(val))
}

// GetUint32 reads an unsigned 32-bit integer from the specified offset
func (p *Page) GetUint32(offset int) uint32 {
	return binary.BigEndian.Uint32(p.bytes[offset : offset+4])
}

// SetUint32 writes an unsigned 32-bit integer at the specified offset
func (p *Page) SetUint32(offset int, val uint32) {
	binary.BigEndian.PutUint32(p.bytes[offset:offset+4], val)
}

// GetLong reads a signed 64-bit integer from the specified offset
func (p *Page) GetLong(offset int) int64 {
	return int64(binary.BigEndian.Uint64(p.bytes[offset : offset+8]))
}

// SetLong writes a signed 64-bit integer at the specified offset
func (p *Page) SetLong(offset int, val int64) {
	binary.BigEndian.PutUint64(p.bytes[offset:offset+8], uint64(val))
}

// GetBytes returns a copy of n raw bytes starting at offset.
// Unlike length-prefixed arrays the length is supplied by the caller,
// records carry it in their own header.
func (p *Page) GetBytes(offset, n int) []byte {
	out := make([]byte, n)
	copy(out, p.bytes[offset:offset+n])
	return out
}

// SetBytes copies val into the page starting at offset
func (p *Page) SetBytes(offset int, val []byte) {
	copy(p.bytes[offset:offset+len(val)], val)
}

// Slice returns the bytes in [from, to) without copying
func (p *Page) Slice(from, to int) []byte {
	return p.bytes[from:to]
}
