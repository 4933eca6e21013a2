package cache

import (
	"fmt"

	"github.com/skipor/memcached/internal/tag"
)

// lru is one segment's doubly linked chain (HOT, WARM, COLD or TEMP, for
// one slab class). Adapted from the teacher's cache/lru.go: same
// fakeHead/fakeTail sentinel trick (no nil checks in the hot path), same
// owner-pointer bookkeeping. Where the teacher's shrink() differentiated
// expired/active/inactive nodes for a single active/inactive list, this
// generalizes to spec.md §4.3's simpler per-segment rule: HOT/WARM
// overflow demotes the tail unconditionally, and the COLD/TEMP walks
// reclaim expired items directly, so the single list type here is driven
// by two narrower operations (demoteOverflow, walkTail) instead of one
// three-way callback.
//
// Pre/post conditions (unchanged from the teacher):
//   - lru owns nodes between fakeHead and fakeTail.
//   - {fakeHead, all owned nodes, fakeTail} are a correct doubly linked list.
//   - all nodes owned by lru have node.owner == &lru.
//   - lru.size equals the sum of owned nodes' size().
type lru struct {
	size int64

	fakeHead *storedItem
	fakeTail *storedItem
}

func (l *lru) init() {
	l.fakeHead, l.fakeTail = &storedItem{}, &storedItem{}
	link(l.fakeHead, l.fakeTail)
}

func (l *lru) head() *storedItem      { return l.fakeHead.next }
func (l *lru) tail() *storedItem      { return l.fakeTail.prev }
func (l *lru) end(n *storedItem) bool { return n == l.fakeTail }

// pushFront links n as the most recently added item. spec.md §4.3: "On
// item_link: inserted at HEAD of HOT (or TEMP...)".
func (l *lru) pushFront(n *storedItem) {
	n.owner = l
	l.size += n.size()
	link(n, l.fakeHead.next)
	link(l.fakeHead, n)
}

func (l *lru) detach(n *storedItem) {
	link(n.prev, n.next)
	n.owner.size -= n.size()
	if tag.Debug {
		n.prev, n.next = nil, nil
	}
}

func (l *lru) assertNotHead(n *storedItem) {
	if n == l.fakeHead {
		panic("lru: node pointer out of range")
	}
}

func link(a, b *storedItem) { a.next, b.prev = b, a }

// demoteOverflow walks from the tail of the segment (l.tail(), the
// oldest-added end in this list's convention) while size exceeds
// capBytes, detaching each item and handing it to demote. spec.md §4.3
// requires the oldest items to be the ones pushed down a segment, not
// the newest.
func (l *lru) demoteOverflow(capBytes int64, demote func(*storedItem)) {
	if capBytes < 0 {
		panic(fmt.Sprintf("demoteOverflow: negative cap %v", capBytes))
	}
	for l.size > capBytes {
		n := l.tail()
		l.assertNotHead(n)
		prev := n.prev
		l.detach(n)
		demote(n)
		_ = prev
	}
}

// walkTail visits up to maxCount items starting at the tail (the
// eviction/reclaim end) and calls visit for each. visit's return value is
// ignored; each item's predecessor is saved before visit runs, so visit
// may detach the item it is given.
func (l *lru) walkTail(maxCount int, visit func(*storedItem) bool) {
	n := l.tail()
	for i := 0; i < maxCount && !l.end(n); i++ {
		prev := n.prev
		visit(n)
		n = prev
	}
}
