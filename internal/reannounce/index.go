package reannounce

import (
	"time"

	"github.com/google/btree"
)

type item struct {
	hash string
	next time.Time
}

var _ btree.Item = (*item)(nil)

func (i *item) Less(than btree.Item) bool {
	o := than.(*item)
	if !i.next.Equal(o.next) {
		return i.next.Before(o.next)
	}
	return i.hash < o.hash
}

// index orders hashes by their next announce time.
type index struct {
	tree   *btree.BTree
	byHash map[string]*item
}

func newIndex() *index {
	return &index{
		tree:   btree.New(32),
		byHash: make(map[string]*item),
	}
}

func (x *index) Len() int {
	return len(x.byHash)
}

func (x *index) Set(hash string, next time.Time) {
	if it, ok := x.byHash[hash]; ok {
		x.tree.Delete(it)
	}
	it := &item{hash: hash, next: next}
	x.byHash[hash] = it
	x.tree.ReplaceOrInsert(it)
}

func (x *index) Remove(hash string) {
	it, ok := x.byHash[hash]
	if !ok {
		return
	}
	x.tree.Delete(it)
	delete(x.byHash, hash)
}

// Due returns hashes that should be announced at or before now, earliest first.
// max limits the number of hashes returned, 0 means no limit.
func (x *index) Due(now time.Time, max int) []string {
	var hashes []string
	x.tree.Ascend(func(i btree.Item) bool {
		it := i.(*item)
		if it.next.After(now) {
			return false
		}
		hashes = append(hashes, it.hash)
		return max <= 0 || len(hashes) < max
	})
	return hashes
}

// Next returns the earliest announce time.
func (x *index) Next() (time.Time, bool) {
	min := x.tree.Min()
	if min == nil {
		return time.Time{}, false
	}
	return min.(*item).next, true
}
