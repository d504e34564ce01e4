package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingTags(t *testing.T) {
	p := newPendingTags()

	_, ok := p.min()
	assert.False(t, ok)

	p.add(40)
	p.add(10)
	p.add(10)
	p.add(70)
	assert.Equal(t, 4, p.len())

	tag, ok := p.min()
	assert.True(t, ok)
	assert.Equal(t, int64(10), tag)

	assert.True(t, p.release(10))
	tag, _ = p.min()
	assert.Equal(t, int64(10), tag, "one write of tag 10 is still outstanding")

	assert.True(t, p.release(10))
	tag, _ = p.min()
	assert.Equal(t, int64(40), tag)

	assert.False(t, p.release(10))
	assert.False(t, p.release(55))
	assert.Equal(t, 2, p.len())

	assert.True(t, p.release(40))
	assert.True(t, p.release(70))
	_, ok = p.min()
	assert.False(t, ok)
	assert.Equal(t, 0, p.len())
}
