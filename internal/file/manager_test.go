package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReadWrite(t *testing.T) {
	blockSize := 64
	fm, err := NewManager(t.TempDir(), blockSize)
	require.NoError(t, err)
	defer fm.Close()

	blk0 := NewBlockID("redo.log", 0)
	blk1 := NewBlockID("redo.log", 1)

	page := NewPage(blockSize)
	page.SetLong(0, 42)
	page.SetBytes(8, []byte("first block"))
	require.NoError(t, fm.Write(blk0, page))

	page = NewPage(blockSize)
	page.SetLong(0, 43)
	require.NoError(t, fm.Write(blk1, page))

	read := NewPage(blockSize)
	require.NoError(t, fm.Read(blk0, read))
	assert.Equal(t, int64(42), read.GetLong(0))
	assert.Equal(t, []byte("first block"), read.GetBytes(8, 11))

	require.NoError(t, fm.Read(blk1, read))
	assert.Equal(t, int64(43), read.GetLong(0))
	assert.Equal(t, make([]byte, 11), read.GetBytes(8, 11), "stale page contents are overwritten")

	total, err := fm.TotalBlocks("redo.log")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestManager_ReadPastEnd(t *testing.T) {
	fm, err := NewManager(t.TempDir(), 16)
	require.NoError(t, err)
	defer fm.Close()

	page := NewPage(16)
	page.SetLong(0, 7)
	require.NoError(t, fm.Read(NewBlockID("empty.log", 3), page))
	assert.Equal(t, make([]byte, 16), page.Bytes())

	total, err := fm.TotalBlocks("empty.log")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestManager_Errors(t *testing.T) {
	_, err := NewManager(t.TempDir(), 0)
	assert.Error(t, err)

	fm, err := NewManager(t.TempDir(), 16)
	require.NoError(t, err)
	defer fm.Close()

	assert.ErrorIs(t, fm.Read(NewBlockID("a.log", -1), NewPage(16)), ErrNegativeBlock)
	assert.ErrorIs(t, fm.Write(NewBlockID("a.log", -1), NewPage(16)), ErrNegativeBlock)
	assert.Error(t, fm.Write(NewBlockID("a.log", 0), NewPage(8)), "page smaller than a block")
}

func TestManager_Reopen(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewManager(dir, 16)
	require.NoError(t, err)

	page := NewPage(16)
	page.SetBytes(0, []byte("survives close"))
	require.NoError(t, fm.Write(NewBlockID("redo.log", 2), page))
	require.NoError(t, fm.Close())

	fm, err = NewManager(dir, 16)
	require.NoError(t, err)
	defer fm.Close()

	read := NewPage(16)
	require.NoError(t, fm.Read(NewBlockID("redo.log", 2), read))
	assert.Equal(t, page.Bytes(), read.Bytes())

	total, err := fm.TotalBlocks("redo.log")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
