// Package cache implements the item store described in spec.md §4.3: a
// striped-lock hash table (see package hashtable) plus per-slab-class
// segmented LRU chains, reference-counted items with CAS versioning, and
// the background LRU maintainer that ages items between segments and
// reclaims expired entries.
//
// The segmented LRU's node/list mechanics are adapted from the teacher's
// cache/lru.go (fakeHead/fakeTail sentinel list, owner pointer,
// shrink-by-callback) generalized from a single active/inactive list to
// the four HOT/WARM/COLD/TEMP segments spec.md §4.3 requires.
package cache

import (
	"io"
	"sync/atomic"

	"github.com/skipor/memcached/hashtable"
)

// bit-flags, spec.md §3 Item attributes.
type itemFlags uint8

const (
	flagLinked  itemFlags = 1 << iota // present in hash table + on an LRU chain
	flagCAS                           // item participates in CAS versioning
	flagSlabbed                       // on a slab class free list, not a live item
	flagFetched                       // has been read at least once since link
	flagActive                        // fetched at least twice; eligible for promotion
	flagChunked                       // value spans a chain of item_chunk bodies
)

// ItemMeta carries a stored item's metadata, independent of its value
// bytes. Mirrors the teacher's conn.go usage (`i.ItemMeta, noreply,
// clientErr = parseSetFields(fields)`).
type ItemMeta struct {
	Key     []byte
	Flags   uint32
	Exptime int64 // relative seconds as given by the client; 0 = never
	Bytes   int   // value length, not counting the trailing separator
	CAS     uint64
}

// Item is a full item as submitted by a `set`-family command: metadata
// plus its value bytes.
type Item struct {
	ItemMeta
	Data []byte
}

// ItemReader streams a stored item's value to a writer without an
// intermediate copy, and must be Closed to release the store's reference
// once the caller is done (matches conn.go's sendGetResponse:
// `view.Reader.WriteTo(c)` then `view.Reader.Close()`).
type ItemReader interface {
	io.WriterTo
	io.Closer
}

// ItemView is what Get/Gets return per hit: enough to write a `VALUE`
// line plus a reader for the body.
type ItemView struct {
	Key    string
	Flags  uint32
	Bytes  int
	CAS    uint64
	Reader ItemReader
}

// storedItem is the single node type shared by the hash table
// (hashtable.Entry) and the per-class segmented LRU lists. Ownership of
// the underlying slab chunk(s) belongs to storedItem; the hash chain and
// LRU chain pointers are non-owning, per spec.md §9.
type storedItem struct {
	key     []byte
	flags   uint32
	exptime int64 // absolute; 0 = never
	cas     uint64
	classID int

	// value storage: either data (single chunk) or chunks (chained,
	// flagChunked set). chunk is the raw slab chunk(s) backing data, kept
	// separately so the data slice can be a tight view into it.
	data   []byte
	chunks [][]byte

	bits      itemFlags
	active    int32 // atomic; set under the bucket's read/write lock
	fetchTime int64
	refcount  int32

	hashNext *storedItem

	owner      *lru
	prev, next *storedItem
}

// hashtable.Entry implementation; storedItem is its own hash chain node.
func (it *storedItem) Key() []byte { return it.key }

func (it *storedItem) HashNext() hashtable.Entry {
	if it.hashNext == nil {
		return nil
	}
	return it.hashNext
}

func (it *storedItem) SetHashNext(e hashtable.Entry) {
	if e == nil {
		it.hashNext = nil
		return
	}
	it.hashNext = e.(*storedItem)
}

func (it *storedItem) isActive() bool  { return atomic.LoadInt32(&it.active) == 1 }
func (it *storedItem) setActive()      { atomic.StoreInt32(&it.active, 1) }
func (it *storedItem) clearActive()    { atomic.StoreInt32(&it.active, 0) }

func (it *storedItem) expired(now int64) bool {
	return it.exptime != 0 && it.exptime <= now
}

// extraSizePerNode approximates the overhead of an item beyond its raw
// key/value bytes (struct headers, hash chain cell), so LRU caps track
// real memory pressure rather than just the value payload.
const extraSizePerNode = 64

func (it *storedItem) size() int64 {
	return int64(extraSizePerNode + len(it.key) + len(it.data))
}
