package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skipor/memcached/clock"
	"github.com/skipor/memcached/log"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxBytes = 4 << 20
	return New(cfg, clock.New(), log.NewLogger(log.ErrorLevel, nopWriter{}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func readValue(t *testing.T, v ItemView) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := v.Reader.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, v.Reader.Close())
	return buf.String()
}

func TestSetThenGet(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 5}, Data: []byte("hello")})
	require.NoError(t, err)

	views := c.Get([]byte("k"))
	require.Len(t, views, 1)
	assert.Equal(t, "hello", readValue(t, views[0]))
}

func TestGetMissingKeyReturnsNoView(t *testing.T) {
	c := newTestCache(t)
	views := c.Get([]byte("nope"))
	assert.Empty(t, views)
}

func TestAddFailsWhenKeyExists(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	_, err = c.Add(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("b")})
	assert.Equal(t, ErrNotStored, err)
}

func TestAddSucceedsWhenKeyAbsent(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Add(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	assert.NoError(t, err)
}

func TestReplaceFailsWhenKeyAbsent(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Replace(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	assert.Equal(t, ErrNotStored, err)
}

func TestCasRoundTrip(t *testing.T) {
	c := newTestCache(t)
	cas1, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	_, err = c.Cas(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("b")}, cas1+1)
	assert.Equal(t, ErrExists, err)

	cas2, err := c.Cas(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("b")}, cas1)
	require.NoError(t, err)
	assert.NotEqual(t, cas1, cas2)
}

func TestCasOnMissingKey(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Cas(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")}, 1)
	assert.Equal(t, ErrNotFound, err)
}

func TestAppendPrepend(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 3}, Data: []byte("mid")})
	require.NoError(t, err)

	_, err = c.Append(Item{ItemMeta: ItemMeta{Key: []byte("k")}, Data: []byte("-end")})
	require.NoError(t, err)
	_, err = c.Prepend(Item{ItemMeta: ItemMeta{Key: []byte("k")}, Data: []byte("start-")})
	require.NoError(t, err)

	views := c.Get([]byte("k"))
	require.Len(t, views, 1)
	assert.Equal(t, "start-mid-end", readValue(t, views[0]))
}

func TestAppendRejectsResultOverMaxItemSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytes = 4 << 20
	cfg.MaxItemSize = 4
	c := New(cfg, clock.New(), log.NewLogger(log.ErrorLevel, nopWriter{}))

	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 3}, Data: []byte("abc")})
	require.NoError(t, err)

	_, err = c.Append(Item{ItemMeta: ItemMeta{Key: []byte("k")}, Data: []byte("de")})
	assert.Equal(t, ErrTooLarge, err)

	views := c.Get([]byte("k"))
	require.Len(t, views, 1)
	assert.Equal(t, "abc", readValue(t, views[0]))
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	assert.True(t, c.Delete([]byte("k")))
	assert.False(t, c.Delete([]byte("k")))
	assert.Empty(t, c.Get([]byte("k")))
}

func TestIncrDecr(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("n"), Bytes: 1}, Data: []byte("5")})
	require.NoError(t, err)

	next, err := c.Incr([]byte("n"), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next)

	next, err = c.Decr([]byte("n"), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next, "decr saturates at zero")
}

func TestIncrNonNumericValue(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("s"), Bytes: 3}, Data: []byte("abc")})
	require.NoError(t, err)

	_, err = c.Incr([]byte("s"), 1)
	assert.Equal(t, ErrNotNumeric, err)
}

func TestTouchUpdatesExpiryWithoutFetchingValue(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	assert.True(t, c.Touch([]byte("k"), 100))
	assert.False(t, c.Touch([]byte("missing"), 100))
}

func TestExpiredItemIsTreatedAsAbsent(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1, Exptime: -1}, Data: []byte("a")})
	require.NoError(t, err)

	assert.Empty(t, c.Get([]byte("k")))
}

func TestFlushAllInvalidatesExistingItems(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	require.NoError(t, c.FlushAll())
	assert.Empty(t, c.Get([]byte("k")))
}

func TestFlushAllDisabledReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytes = 4 << 20
	cfg.FlushEnabled = false
	c := New(cfg, clock.New(), log.NewLogger(log.ErrorLevel, nopWriter{}))
	assert.Error(t, c.FlushAll())
}

func TestTooLargeItemRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytes = 4 << 20
	cfg.MaxItemSize = 10
	c := New(cfg, clock.New(), log.NewLogger(log.ErrorLevel, nopWriter{}))

	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 100}, Data: bytes.Repeat([]byte("x"), 100)})
	assert.Equal(t, ErrTooLarge, err)
}

func TestStatsTrackGetsAndHitsMisses(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Set(Item{ItemMeta: ItemMeta{Key: []byte("k"), Bytes: 1}, Data: []byte("a")})
	require.NoError(t, err)

	c.Get([]byte("k"))
	c.Get([]byte("missing"))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.GetHits)
	assert.Equal(t, uint64(1), stats.GetMisses)
}
