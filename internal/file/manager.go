package file

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// ErrNegativeBlock is returned when a block number is below zero.
var ErrNegativeBlock = errors.New("negative block number not allowed")

// Manager manages the files of a directory as fixed-size blocks.
// Each block is the same size as a Page:
//   - Read: BlockID → load block from disk → store in Page
//   - Modify: change data in Page
//   - Write: Page → write back to disk at BlockID location
//
// Files are opened with O_SYNC, a Write that returned is on disk.
type Manager struct {
	blockSize   int
	dir         string
	openedFiles map[string]*os.File
	mu          sync.Mutex
}

// NewManager creates a file manager for dir, creating the directory if needed.
func NewManager(dir string, blockSize int) (*Manager, error) {
	if blockSize <= 0 {
		return nil, errors.Errorf("block size %d must be positive", blockSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory %s", dir)
	}
	return &Manager{
		blockSize:   blockSize,
		dir:         dir,
		openedFiles: make(map[string]*os.File),
	}, nil
}

// BlockSize returns the block size
func (fm *Manager) BlockSize() int {
	return fm.blockSize
}

// Read reads blk into p. Blocks past the end of the file read as zeros.
func (fm *Manager) Read(blk BlockID, p *Page) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if blk.Number < 0 {
		return ErrNegativeBlock
	}
	f, err := fm.getFile(blk.Filename)
	if err != nil {
		return err
	}

	buf := p.Bytes()
	n, err := f.ReadAt(buf, int64(blk.Number)*int64(fm.blockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "read %s", blk)
	}
	clear(buf[n:])
	return nil
}

// Write writes p to blk, growing the file if needed.
func (fm *Manager) Write(blk BlockID, p *Page) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if blk.Number < 0 {
		return ErrNegativeBlock
	}
	if p.Len() != fm.blockSize {
		return errors.Errorf("page of %d bytes written to %s, block size is %d", p.Len(), blk, fm.blockSize)
	}
	f, err := fm.getFile(blk.Filename)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(p.Bytes(), int64(blk.Number)*int64(fm.blockSize)); err != nil {
		return errors.Wrapf(err, "write %s", blk)
	}
	return nil
}

// TotalBlocks returns the number of blocks in filename, counting a partial
// last block.
func (fm *Manager) TotalBlocks(filename string) (int, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	f, err := fm.getFile(filename)
	if err != nil {
		return 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", filename)
	}
	return int((fi.Size() + int64(fm.blockSize) - 1) / int64(fm.blockSize)), nil
}

// Close closes every opened file.
func (fm *Manager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var first error
	for name, f := range fm.openedFiles {
		if err := f.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", name)
		}
		delete(fm.openedFiles, name)
	}
	return first
}

// getFile returns the open file called filename, creating it if it does not
// exist. It assumes that the mutex is already locked.
func (fm *Manager) getFile(filename string) (*os.File, error) {
	if f, ok := fm.openedFiles[filename]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(fm.dir, filename), os.O_RDWR|os.O_CREATE|os.O_SYNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	fm.openedFiles[filename] = f
	return f, nil
}
