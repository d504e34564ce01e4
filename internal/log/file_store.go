package log

import (
	"github.com/pkg/errors"

	"github.com/yashagw/cranekv/internal/file"
	"github.com/yashagw/cranekv/internal/utils"
)

const (
	// DataFile holds the log bytes, offset o lives in block o/BlockSize.
	DataFile = "redo.log"
	// MetaFile holds the end and truncation offsets.
	MetaFile = "redo.meta"

	// DefaultBlockSize is the block size of a log opened with Open.
	DefaultBlockSize = 4096

	// meta block: [end 8][truncation 8][checksum 4]
	metaSize = 20
)

// ErrCorruptMeta is returned by Open when the offsets block fails its checksum.
var ErrCorruptMeta = errors.New("log meta block corrupted")

// fileStore mirrors the log bytes into block files. Data blocks are written
// before the meta block, so bytes past the recorded end offset are ignored on
// reopen and an append interrupted midway is not visible.
type fileStore struct {
	fm *file.Manager
}

func newFileStore(dir string, blockSize int) (*fileStore, error) {
	if blockSize < metaSize {
		return nil, errors.Errorf("block size %d smaller than the %d byte meta block", blockSize, metaSize)
	}
	fm, err := file.NewManager(dir, blockSize)
	if err != nil {
		return nil, err
	}
	return &fileStore{fm: fm}, nil
}

// load reads the offsets and the live part of the log. Bytes before the
// truncation offset are left zero.
func (fs *fileStore) load() ([]byte, int64, int64, error) {
	n, err := fs.fm.TotalBlocks(MetaFile)
	if err != nil {
		return nil, 0, 0, err
	}
	if n == 0 {
		return nil, 0, 0, nil
	}

	meta := file.NewPage(fs.fm.BlockSize())
	if err := fs.fm.Read(file.NewBlockID(MetaFile, 0), meta); err != nil {
		return nil, 0, 0, err
	}
	end, truncation := meta.GetLong(0), meta.GetLong(8)
	if !utils.VerifyChecksum(meta.GetUint32(16), meta.Slice(0, 16)) || truncation < 0 || truncation > end {
		return nil, 0, 0, ErrCorruptMeta
	}

	bs := int64(fs.fm.BlockSize())
	buf := make([]byte, end)
	page := file.NewPage(fs.fm.BlockSize())
	for blk := truncation / bs; blk*bs < end; blk++ {
		if err := fs.fm.Read(file.NewBlockID(DataFile, int(blk)), page); err != nil {
			return nil, 0, 0, err
		}
		copy(buf[blk*bs:], page.Bytes())
	}
	return buf, end, truncation, nil
}

// write persists buf[from:] and then the offsets.
func (fs *fileStore) write(buf []byte, from int64, truncation int64) error {
	if err := fs.writeData(buf, from); err != nil {
		return err
	}
	return fs.writeMeta(int64(len(buf)), truncation)
}

// writeData persists buf[from:] without touching the offsets.
func (fs *fileStore) writeData(buf []byte, from int64) error {
	bs := int64(fs.fm.BlockSize())
	end := int64(len(buf))
	page := file.NewPage(fs.fm.BlockSize())
	for blk := from / bs; blk*bs < end; blk++ {
		clear(page.Bytes())
		copy(page.Bytes(), buf[blk*bs:min((blk+1)*bs, end)])
		if err := fs.fm.Write(file.NewBlockID(DataFile, int(blk)), page); err != nil {
			return err
		}
	}
	return nil
}

func (fs *fileStore) writeMeta(end, truncation int64) error {
	meta := file.NewPage(fs.fm.BlockSize())
	meta.SetLong(0, end)
	meta.SetLong(8, truncation)
	meta.SetUint32(16, utils.Checksum(meta.Slice(0, 16)))
	return fs.fm.Write(file.NewBlockID(MetaFile, 0), meta)
}

func (fs *fileStore) close() error {
	return fs.fm.Close()
}
