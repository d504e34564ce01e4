package transaction

import "github.com/google/btree"

// pendingTags counts the writes queued to storage per tag that have not been
// confirmed durable yet. The smallest tag with outstanding writes bounds how
// far the log may be truncated.
type pendingTags struct {
	counts map[int64]int
	order  *btree.BTreeG[int64]
	total  int
}

func newPendingTags() *pendingTags {
	return &pendingTags{
		counts: make(map[int64]int),
		order:  btree.NewOrderedG[int64](16),
	}
}

func (p *pendingTags) add(tag int64) {
	if p.counts[tag] == 0 {
		p.order.ReplaceOrInsert(tag)
	}
	p.counts[tag]++
	p.total++
}

// release drops one outstanding write of tag. It returns false if no write
// with that tag was outstanding.
func (p *pendingTags) release(tag int64) bool {
	n, ok := p.counts[tag]
	if !ok {
		return false
	}
	p.total--
	if n == 1 {
		delete(p.counts, tag)
		p.order.Delete(tag)
		return true
	}
	p.counts[tag] = n - 1
	return true
}

// min returns the smallest tag that still has outstanding writes.
func (p *pendingTags) min() (int64, bool) {
	return p.order.Min()
}

// len returns the number of outstanding writes.
func (p *pendingTags) len() int {
	return p.total
}
