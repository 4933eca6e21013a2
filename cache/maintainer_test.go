package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skipor/memcached/log"
)

func TestMaintainerReclaimsExpiredColdItems(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1, Exptime: -1}, Data: []byte("a")})
	require.NoError(t, err)

	// Move it straight to COLD so reclaimCold's tail walk finds it without
	// needing enforceCaps to demote it first.
	classID, _ := c.alloc.ClassForSize(1)
	cl := c.lrus[classID]
	it := findAndUnlinkFromHot(t, cl, "k")
	cl.mu.Lock()
	it.owner = &cl.segs[segCold]
	cl.segs[segCold].pushFront(it)
	cl.mu.Unlock()

	m := NewMaintainer(c, MaintainerConfig{Enabled: true}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	m.reclaimCold(classID, cl, c.clock.Now())

	assert.Empty(t, c.Get([]byte("k")))
}

// findAndUnlinkFromHot locates the stored item for key in classID's HOT
// segment and detaches it, so tests can relocate it into another segment
// to set up a specific LRU ordering.
func findAndUnlinkFromHot(t *testing.T, cl *classLRU, key string) *storedItem {
	t.Helper()
	cl.mu.Lock()
	var it *storedItem
	for n := cl.segs[segHot].tail(); !cl.segs[segHot].end(n); n = n.prev {
		if string(n.key) == key {
			it = n
			break
		}
	}
	cl.mu.Unlock()
	require.NotNil(t, it)
	cl.unlink(it)
	return it
}

func TestCrawlSegmentProgressesPastLiveItemToReclaimExpiredOne(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("live"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)
	_, err = c.Set(Item{ItemMeta: ItemMeta{Key: []byte("dead"), Bytes: 1, Exptime: -1}, Data: []byte("b")})
	require.NoError(t, err)

	classID, _ := c.alloc.ClassForSize(1)
	cl := c.lrus[classID]

	live := findAndUnlinkFromHot(t, cl, "live")
	dead := findAndUnlinkFromHot(t, cl, "dead")

	// live pushed first so it lands at COLD's tail (oldest); dead pushed
	// after it sits one step toward head. The crawler must step past the
	// live tail item to reach the expired one behind it.
	cl.mu.Lock()
	live.owner = &cl.segs[segCold]
	cl.segs[segCold].pushFront(live)
	dead.owner = &cl.segs[segCold]
	cl.segs[segCold].pushFront(dead)
	cl.mu.Unlock()

	m := NewMaintainer(c, MaintainerConfig{CrawlerToCrawl: 2}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	m.crawlSegment(classID, cl, segCold, c.clock.Now())

	assert.NotEmpty(t, c.Get([]byte("live")))
	assert.Empty(t, c.Get([]byte("dead")))
}

func TestMaintainerIsEnabled(t *testing.T) {
	c := newTestCache(t)
	m := NewMaintainer(c, MaintainerConfig{Enabled: true}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	assert.True(t, m.IsEnabled())

	m2 := NewMaintainer(c, MaintainerConfig{Enabled: false}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	assert.False(t, m2.IsEnabled())
}

func TestMaintainerCrawlerToggle(t *testing.T) {
	c := newTestCache(t)
	m := NewMaintainer(c, MaintainerConfig{CrawlerEnabled: false}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	assert.False(t, m.crawlerOn())

	m.SetCrawlerEnabled(true)
	assert.True(t, m.crawlerOn())
}

func TestMaintainerRunStopsCleanly(t *testing.T) {
	c := newTestCache(t)
	m := NewMaintainer(c, MaintainerConfig{
		Enabled:      true,
		IdleSleepMin: 1, // nanoseconds via withDefaults is skipped since >0
	}, log.NewLogger(log.ErrorLevel, nopWriter{}))
	done := make(chan struct{})
	go func() {
		m.Run()
		close(done)
	}()
	m.Stop()
	<-done
}

func TestClassBudgetReturnsZeroWhenClassNotFound(t *testing.T) {
	got := classBudget(nil, 3)
	assert.Equal(t, int64(0), got)
}
