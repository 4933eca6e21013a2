// Package hashtable implements the striped-lock, closed-address hash
// table described in spec.md §4.2: a power-of-two bucket array keyed on a
// 32-bit hash of the key, with a background expansion protocol that
// migrates one bucket at a time into a doubled table while foreground
// lookups keep working against both tables.
//
// Bucket locking follows original_source/slabs_curd/hash.h's choice of a
// pluggable hash function (Jenkins by default); the striped item-lock
// design and the "two tables during expansion" protocol follow the
// narrative in spec.md §4.2, grounded in the general shape of
// original_source/thread/memcached.c's per-bucket locking.
package hashtable

import (
	"sync"
)

// Entry is one hash-chain node. Users embed hashtable bookkeeping fields
// directly on their item type and satisfy Entry so the table never
// allocates a wrapper node.
type Entry interface {
	Key() []byte
	HashNext() Entry
	SetHashNext(Entry)
}

const defaultInitialPower = 16 // 2^16 = 65536 buckets, matches spec's "default 64K buckets"

// Table is a striped-lock hash table. NumLocks is independent of bucket
// count, per spec.md §4.2.
type Table struct {
	mu       sync.Mutex // guards expansion bookkeeping and table swap
	locks    []sync.Mutex
	lockMask uint32

	primary   []Entry
	secondary []Entry // non-nil only while expanding
	expanding bool
	cursor    uint32 // next bucket index (in primary) to migrate

	itemCount int64
	hashFunc  func([]byte) uint32
}

// Config configures a Table.
type Config struct {
	HashPowerInit int               // 0 = defaultInitialPower
	NumLocks      int               // must be a power of two; 0 = 1024
	HashFunc      func([]byte) uint32 // nil = Jenkins one-at-a-time
}

// New builds a Table with 2^HashPowerInit buckets.
func New(cfg Config) *Table {
	power := cfg.HashPowerInit
	if power <= 0 {
		power = defaultInitialPower
	}
	numLocks := cfg.NumLocks
	if numLocks <= 0 {
		numLocks = 1024
	}
	hf := cfg.HashFunc
	if hf == nil {
		hf = JenkinsOneAtATime
	}
	return &Table{
		locks:    make([]sync.Mutex, numLocks),
		lockMask: uint32(numLocks - 1),
		primary:  make([]Entry, 1<<uint(power)),
		hashFunc: hf,
	}
}

// LockFor returns the striped mutex guarding the bucket that key hashes
// into. Callers must hold this lock across link/unlink/refcount bump on
// the looked-up item, per spec.md §5.
func (t *Table) LockFor(key []byte) *sync.Mutex {
	h := t.hashFunc(key)
	return &t.locks[h&t.lockMask]
}

// Get looks up key, walking the bucket chain(s) (both primary and
// secondary while a bucket is mid-migration). The caller must hold
// LockFor(key).
func (t *Table) Get(key []byte) Entry {
	h := t.hashFunc(key)
	if e := t.getIn(t.primary, h, key); e != nil {
		return e
	}
	if t.secondary != nil {
		return t.getIn(t.secondary, h, key)
	}
	return nil
}

func (t *Table) getIn(tbl []Entry, h uint32, key []byte) Entry {
	mask := uint32(len(tbl) - 1)
	for e := tbl[h&mask]; e != nil; e = e.HashNext() {
		if bytesEqual(e.Key(), key) {
			return e
		}
	}
	return nil
}

// Insert links e into the bucket its key hashes to. While expanding,
// inserts always go to the new (secondary) table, per spec.md §4.2. The
// caller must hold LockFor(e.Key()).
func (t *Table) Insert(e Entry) {
	h := t.hashFunc(e.Key())
	tbl := t.primary
	if t.secondary != nil {
		tbl = t.secondary
	}
	mask := uint32(len(tbl) - 1)
	idx := h & mask
	e.SetHashNext(tbl[idx])
	tbl[idx] = e
	t.itemCount++
	t.maybeMigrateOne(h)
	t.maybeStartExpansion()
}

// Remove unlinks e from whichever table currently holds it. The caller
// must hold LockFor(e.Key()).
func (t *Table) Remove(e Entry) bool {
	h := t.hashFunc(e.Key())
	if t.removeFrom(t.primary, h, e) {
		t.itemCount--
		t.maybeMigrateOne(h)
		return true
	}
	if t.secondary != nil && t.removeFrom(t.secondary, h, e) {
		t.itemCount--
		t.maybeMigrateOne(h)
		return true
	}
	return false
}

func (t *Table) removeFrom(tbl []Entry, h uint32, target Entry) bool {
	mask := uint32(len(tbl) - 1)
	idx := h & mask
	var prev Entry
	for e := tbl[idx]; e != nil; e = e.HashNext() {
		if e == target {
			if prev == nil {
				tbl[idx] = e.HashNext()
			} else {
				prev.SetHashNext(e.HashNext())
			}
			e.SetHashNext(nil)
			return true
		}
		prev = e
	}
	return false
}

// ItemCount returns the approximate number of linked entries.
func (t *Table) ItemCount() int64 { return t.itemCount }

// BucketCount returns the primary table's current bucket count.
func (t *Table) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.primary)
}

// maybeStartExpansion begins a background expansion once item count
// exceeds 1.5x bucket count, per spec.md §4.2. Must be called with the
// entry's bucket lock held; takes the table-wide lock internally, which
// is only ever held for O(1) bookkeeping so it cannot deadlock against
// the per-bucket locks (distinct lock).
func (t *Table) maybeStartExpansion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expanding {
		return
	}
	if float64(t.itemCount) <= 1.5*float64(len(t.primary)) {
		return
	}
	t.secondary = make([]Entry, len(t.primary)*2)
	t.expanding = true
	t.cursor = 0
}

// maybeMigrateOne migrates the bucket at the cursor, if expanding and the
// operation's hash lands in a lock stripe we already hold (so the bucket
// being migrated is protected by the caller's held lock). This keeps
// expansion work spread across foreground traffic, per spec.md §4.2.
func (t *Table) maybeMigrateOne(h uint32) {
	t.mu.Lock()
	if !t.expanding {
		t.mu.Unlock()
		return
	}
	cursor := t.cursor
	if cursor&t.lockMask != h&t.lockMask {
		t.mu.Unlock()
		return
	}
	if cursor >= uint32(len(t.primary)) {
		t.finishExpansion()
		t.mu.Unlock()
		return
	}
	t.cursor++
	done := t.cursor >= uint32(len(t.primary))
	t.mu.Unlock()

	t.migrateBucket(cursor)
	if done {
		t.mu.Lock()
		t.finishExpansion()
		t.mu.Unlock()
	}
}

func (t *Table) migrateBucket(idx uint32) {
	mask := uint32(len(t.secondary) - 1)
	for e := t.primary[idx]; e != nil; {
		next := e.HashNext()
		h := t.hashFunc(e.Key())
		newIdx := h & mask
		e.SetHashNext(t.secondary[newIdx])
		t.secondary[newIdx] = e
		e = next
	}
	t.primary[idx] = nil
}

func (t *Table) finishExpansion() {
	if !t.expanding || t.cursor < uint32(len(t.primary)) {
		return
	}
	t.primary = t.secondary
	t.secondary = nil
	t.expanding = false
	t.cursor = 0
}

// Expanding reports whether a background expansion is in progress.
func (t *Table) Expanding() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expanding
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
