package file

import "fmt"

// BlockID addresses one fixed-size block of a file.
type BlockID struct {
	Filename string
	Number   int
}

// NewBlockID creates a new BlockID instance
func NewBlockID(filename string, blkNum int) BlockID {
	return BlockID{Filename: filename, Number: blkNum}
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.Filename, b.Number)
}
