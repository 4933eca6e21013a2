package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(key string, data string) *storedItem {
	it := &storedItem{key: []byte(key), data: []byte(data)}
	return it
}

func TestLinkNewGoesToHot(t *testing.T) {
	cl := newClassLRU()
	it := newItem("k", "v")
	cl.linkNew(it, 0, 61, false)
	assert.Equal(t, &cl.segs[segHot], it.owner)
}

func TestLinkNewShortTTLGoesToTemp(t *testing.T) {
	cl := newClassLRU()
	it := newItem("k", "v")
	it.exptime = 30 // expires in 30s from now=0
	cl.linkNew(it, 0, 61, true)
	assert.Equal(t, &cl.segs[segTemp], it.owner)
}

func TestLinkNewTempDisabledStillGoesToHot(t *testing.T) {
	cl := newClassLRU()
	it := newItem("k", "v")
	it.exptime = 30
	cl.linkNew(it, 0, 61, false)
	assert.Equal(t, &cl.segs[segHot], it.owner)
}

func TestTouchPromotesHotToWarmOnSecondFetch(t *testing.T) {
	cl := newClassLRU()
	it := newItem("k", "v")
	cl.linkNew(it, 0, 61, false)

	cl.touch(it) // first fetch: just marks FETCHED
	assert.Equal(t, &cl.segs[segHot], it.owner)
	assert.True(t, it.bits&flagFetched != 0)

	cl.touch(it) // second fetch: promotes to WARM and marks ACTIVE
	assert.Equal(t, &cl.segs[segWarm], it.owner)
	assert.True(t, it.isActive())
}

func TestEnforceCapsDemotesHotOverflowToWarm(t *testing.T) {
	cl := newClassLRU()
	a := newItem("a", "v")
	b := newItem("b", "v")
	cl.linkNew(a, 0, 61, false)
	cl.linkNew(b, 0, 61, false)
	cl.setCaps(0, 1<<30) // HOT cap of 0 forces everything out

	cl.enforceCaps()
	assert.Equal(t, &cl.segs[segWarm], a.owner)
	assert.Equal(t, &cl.segs[segWarm], b.owner)
}

func TestEnforceCapsDemotesOldestHotItemFirst(t *testing.T) {
	cl := newClassLRU()
	a := newItem("a", "v") // linked first, so it is the oldest: HOT's tail
	b := newItem("b", "v") // linked second, so it is the newest: HOT's head
	cl.linkNew(a, 0, 61, false)
	cl.linkNew(b, 0, 61, false)

	// Cap at one item's size, half the combined size of both items, so
	// exactly one must be demoted; it must be the oldest (a), never the most recently
	// stored one (b).
	cl.setCaps(a.size(), 1<<30)
	cl.enforceCaps()

	assert.Equal(t, &cl.segs[segWarm], a.owner)
	assert.Equal(t, &cl.segs[segHot], b.owner)
}

func TestEnforceCapsDemotesWarmOverflowToColdAndClearsActive(t *testing.T) {
	cl := newClassLRU()
	it := newItem("a", "v")
	it.owner = &cl.segs[segWarm]
	cl.segs[segWarm].pushFront(it)
	it.setActive()
	it.bits |= flagActive

	cl.setCaps(1<<30, 0)
	cl.enforceCaps()

	assert.Equal(t, &cl.segs[segCold], it.owner)
	assert.False(t, it.isActive())
	assert.True(t, it.bits&flagActive == 0)
}

func TestUnlinkDetachesFromOwner(t *testing.T) {
	cl := newClassLRU()
	it := newItem("k", "v")
	cl.linkNew(it, 0, 61, false)
	cl.unlink(it)
	assert.True(t, cl.segs[segHot].end(cl.segs[segHot].head()))
}

func TestWalkTailVisitsFromOldest(t *testing.T) {
	l := &lru{}
	l.init()
	a, b, c := newItem("a", "1"), newItem("b", "2"), newItem("c", "3")
	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c) // head: c, b, a :tail

	var seen []string
	l.walkTail(10, func(n *storedItem) bool {
		seen = append(seen, string(n.key))
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, seen)
}
