package cache

import (
	"strconv"
	"sync/atomic"

	"github.com/facebookgo/stackerr"
)

// storeMode selects which of the set-family semantics a store call uses,
// per spec.md §1's command list (set/add/replace/cas).
type storeMode int

const (
	modeSet storeMode = iota
	modeAdd
	modeReplace
	modeCAS
	modeAppend
	modePrepend
)

// Set stores i unconditionally, replacing any existing item for the key,
// and returns the stored item's new CAS value.
func (c *Cache) Set(i Item) (uint64, error) {
	return c.store(modeSet, i, 0)
}

// Add stores i only if the key does not currently exist. Returns
// ErrNotStored otherwise (conn.go-style convention: a non-error outcome
// surfaced through a sentinel, not a panic-worthy failure).
func (c *Cache) Add(i Item) (uint64, error) {
	return c.store(modeAdd, i, 0)
}

// Replace stores i only if the key currently exists.
func (c *Cache) Replace(i Item) (uint64, error) {
	return c.store(modeReplace, i, 0)
}

// Cas stores i only if the key exists with CAS value casID. Returns
// ErrExists if the key exists with a different CAS, ErrNotFound if
// absent (spec.md §4.3).
func (c *Cache) Cas(i Item, casID uint64) (uint64, error) {
	return c.store(modeCAS, i, casID)
}

// Append appends i.Data to the existing value for i.Key, leaving flags
// and exptime untouched. Fails with ErrNotStored if the key is absent.
func (c *Cache) Append(i Item) (uint64, error) {
	return c.store(modeAppend, i, 0)
}

// Prepend prepends i.Data to the existing value for i.Key.
func (c *Cache) Prepend(i Item) (uint64, error) {
	return c.store(modePrepend, i, 0)
}

func (c *Cache) store(mode storeMode, in Item, casID uint64) (uint64, error) {
	if len(in.Key) == 0 || len(in.Key) > 250 {
		return 0, stackerr.New("bad key length")
	}
	if in.Bytes > c.cfg.MaxItemSize {
		return 0, ErrTooLarge
	}

	bucket := c.table.LockFor(in.Key)
	bucket.Lock()
	defer bucket.Unlock()

	existing := c.liveLookup(in.Key)

	switch mode {
	case modeAdd:
		if existing != nil {
			return 0, ErrNotStored
		}
	case modeReplace:
		if existing == nil {
			return 0, ErrNotStored
		}
	case modeCAS:
		if existing == nil {
			atomic.AddUint64(&c.stats.CASMisses, 1)
			return 0, ErrNotFound
		}
		if existing.cas != casID {
			atomic.AddUint64(&c.stats.CASBadval, 1)
			return 0, ErrExists
		}
		atomic.AddUint64(&c.stats.CASHits, 1)
	case modeAppend, modePrepend:
		if existing == nil {
			return 0, ErrNotStored
		}
		merged := make([]byte, 0, len(existing.data)+len(in.Data))
		if mode == modeAppend {
			merged = append(merged, existing.data...)
			merged = append(merged, in.Data...)
		} else {
			merged = append(merged, in.Data...)
			merged = append(merged, existing.data...)
		}
		if len(merged) > c.cfg.MaxItemSize {
			return 0, ErrTooLarge
		}
		in.Data = merged
		in.Flags = existing.flags
		in.Exptime = 0 // keep relative-to-now semantics simple: re-derive below
		in.Bytes = len(merged)
	}

	it, err := c.allocItem(in.ItemMeta, in.Data)
	if err != nil {
		return 0, err
	}
	if mode == modeAppend || mode == modePrepend {
		it.exptime = existing.exptime // absolute; untouched by append/prepend
	}
	if existing != nil {
		c.unlink(existing)
		c.release(existing)
	}
	c.link(it)
	atomic.AddUint64(&c.stats.Sets, 1)
	return it.cas, nil
}

// Get fetches multiple keys, returning a view (with a reader over its
// value) for each hit, promoting per spec.md §4.3's touch rules.
// Handler.Get's contract ("readers can be nil if no key was found") is
// honored by simply omitting misses from the result.
func (c *Cache) Get(keys ...[]byte) []ItemView {
	return c.get(keys, true)
}

// Gets is identical to Get. The server's ASCII get/gets and binary
// GET/GETK handlers all call Get; the caller's codec decides whether to
// print the CAS field (spec.md §4.6) — CAS is always present on the
// returned view.
func (c *Cache) Gets(keys ...[]byte) []ItemView { return c.get(keys, true) }

func (c *Cache) get(keys [][]byte, doUpdate bool) []ItemView {
	views := make([]ItemView, 0, len(keys))
	for _, key := range keys {
		bucket := c.table.LockFor(key)
		bucket.Lock()
		it := c.liveLookup(key)
		if it == nil {
			atomic.AddUint64(&c.stats.GetMisses, 1)
			bucket.Unlock()
			continue
		}
		c.acquire(it)
		if doUpdate {
			c.lrus[it.classID].touch(it)
		}
		atomic.AddUint64(&c.stats.GetHits, 1)
		bucket.Unlock()

		views = append(views, ItemView{
			Key:    string(it.key),
			Flags:  it.flags,
			Bytes:  len(it.data),
			CAS:    it.cas,
			Reader: &itemReader{cache: c, item: it},
		})
	}
	atomic.AddUint64(&c.stats.Gets, uint64(len(keys)))
	return views
}

// Gat (get-and-touch) fetches keys and resets their expiry to
// newExptime, per spec.md §1's gat/gats commands.
func (c *Cache) Gat(newExptime int64, keys ...[]byte) []ItemView {
	now := c.clock.Now()
	views := make([]ItemView, 0, len(keys))
	for _, key := range keys {
		bucket := c.table.LockFor(key)
		bucket.Lock()
		it := c.liveLookup(key)
		if it == nil {
			bucket.Unlock()
			continue
		}
		if newExptime != 0 {
			it.exptime = now + newExptime
		} else {
			it.exptime = 0
		}
		c.acquire(it)
		c.lrus[it.classID].touch(it)
		bucket.Unlock()
		views = append(views, ItemView{Key: string(it.key), Flags: it.flags, Bytes: len(it.data), CAS: it.cas, Reader: &itemReader{cache: c, item: it}})
	}
	return views
}

// Touch resets key's expiry to newExptime without fetching its value.
// Returns ok=false if the key is absent.
func (c *Cache) Touch(key []byte, newExptime int64) (ok bool) {
	bucket := c.table.LockFor(key)
	bucket.Lock()
	defer bucket.Unlock()
	it := c.liveLookup(key)
	if it == nil {
		return false
	}
	now := c.clock.Now()
	if newExptime != 0 {
		it.exptime = now + newExptime
	} else {
		it.exptime = 0
	}
	return true
}

// Delete removes key, returning whether it was present.
func (c *Cache) Delete(key []byte) bool {
	bucket := c.table.LockFor(key)
	bucket.Lock()
	it := c.liveLookup(key)
	if it == nil {
		bucket.Unlock()
		atomic.AddUint64(&c.stats.DeleteMisses, 1)
		return false
	}
	c.unlink(it)
	bucket.Unlock()
	c.release(it)
	atomic.AddUint64(&c.stats.Deletes, 1)
	return true
}

// FlushAll invalidates every item currently stored (spec.md §4.3): sets a
// watermark so items linked before now are treated as absent on next
// lookup, without rewriting them. When CAS is enabled oldestCAS achieves
// the same without relying on the (coarser) one-second clock.
func (c *Cache) FlushAll() error {
	if !c.cfg.FlushEnabled {
		return stackerr.New("flush_all disabled")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.UseCAS {
		c.oldestCAS = atomic.LoadUint64(&c.casCounter) + 1
	} else {
		c.oldestLive = c.clock.Now() + 1
	}
	return nil
}

// Incr adds delta to the decimal integer stored at key, per spec.md
// §4.3's arithmetic rules: overflow wraps to zero, the existing value
// must already be a non-negative decimal integer.
func (c *Cache) Incr(key []byte, delta uint64) (uint64, error) {
	return c.arith(key, delta, true)
}

// Decr subtracts delta, saturating at zero instead of going negative.
func (c *Cache) Decr(key []byte, delta uint64) (uint64, error) {
	return c.arith(key, delta, false)
}

func (c *Cache) arith(key []byte, delta uint64, incr bool) (uint64, error) {
	bucket := c.table.LockFor(key)
	bucket.Lock()
	defer bucket.Unlock()

	it := c.liveLookup(key)
	if it == nil {
		return 0, ErrNotFound
	}
	cur, err := strconv.ParseUint(string(it.data), 10, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}

	var next uint64
	if incr {
		next = cur + delta // wraps to 0 on overflow, same as unsigned semantics
	} else if delta > cur {
		next = 0
	} else {
		next = cur - delta
	}

	newData := []byte(strconv.FormatUint(next, 10))
	if len(newData) <= cap(it.data) && it.bits&flagChunked == 0 {
		copy(it.chunks[0][:len(newData)], newData)
		it.data = it.chunks[0][:len(newData)]
		it.cas = atomic.AddUint64(&c.casCounter, 1)
		return next, nil
	}

	// Doesn't fit in place (or is chunked): allocate fresh and swap.
	replacement, err := c.allocItem(ItemMeta{Key: it.key, Flags: it.flags, Bytes: len(newData), CAS: 0}, newData)
	if err != nil {
		return 0, err
	}
	replacement.exptime = it.exptime
	c.unlink(it)
	c.release(it)
	c.link(replacement)
	return next, nil
}
