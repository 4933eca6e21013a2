package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvictor struct {
	chunk []byte
	ok    bool
}

func (s stubEvictor) EvictForClass(classID int) ([]byte, bool) { return s.chunk, s.ok }

func newTestAllocator(evictor Evictor) *Allocator {
	return New(Config{
		MaxBytes:     4 << 10, // 4 pages of 1KiB
		ChunkSizeMin: 64,
		Factor:       2,
		PageSize:     1 << 10,
		ChunkSizeMax: 512,
	}, evictor)
}

func TestAllocatorClassGeometry(t *testing.T) {
	a := newTestAllocator(nil)
	assert.True(t, a.NumClasses() > 1)
	assert.Equal(t, a.NumClasses()-1, a.ChunkClass())
	assert.Equal(t, 512, a.ChunkSize(a.ChunkClass()))
}

func TestClassForSize(t *testing.T) {
	a := newTestAllocator(nil)
	id, ok := a.ClassForSize(40)
	require.True(t, ok)
	assert.True(t, a.ChunkSize(id) >= 40)

	_, ok = a.ClassForSize(1 << 20)
	assert.False(t, ok)
}

func TestAllocateCarvesFirstPage(t *testing.T) {
	a := New(Config{
		MaxBytes:     1 << 10, // exactly one page
		ChunkSizeMin: 64,
		Factor:       2,
		PageSize:     1 << 10,
		ChunkSizeMax: 512,
	}, nil)
	classID, ok := a.ClassForSize(64)
	require.True(t, ok)

	chunk, err := a.Allocate(classID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunk)
}

func TestAllocateFallsBackToEvictor(t *testing.T) {
	evicted := make([]byte, 64)
	a := New(Config{
		MaxBytes:     1 << 10,
		ChunkSizeMin: 64,
		Factor:       2,
		PageSize:     1 << 10,
		ChunkSizeMax: 512,
	}, stubEvictor{chunk: evicted, ok: true})
	classID, _ := a.ClassForSize(64)

	pageChunks := (1 << 10) / a.ChunkSize(classID)
	for i := 0; i < pageChunks; i++ {
		_, err := a.Allocate(classID)
		require.NoError(t, err)
	}
	// Budget now exhausted for a fresh page; the evictor must supply one.
	chunk, err := a.Allocate(classID)
	require.NoError(t, err)
	assert.Equal(t, evicted, chunk)
}

func TestAllocateOutOfMemoryWithNoEvictor(t *testing.T) {
	a := New(Config{
		MaxBytes:     1 << 10,
		ChunkSizeMin: 64,
		Factor:       2,
		PageSize:     1 << 10,
		ChunkSizeMax: 512,
	}, nil)
	classID, _ := a.ClassForSize(64)
	pageChunks := (1 << 10) / a.ChunkSize(classID)
	for i := 0; i < pageChunks; i++ {
		_, err := a.Allocate(classID)
		require.NoError(t, err)
	}
	_, err := a.Allocate(classID)
	assert.Equal(t, ErrOutOfMemory, err)
}

func TestFreeReturnsChunkToClass(t *testing.T) {
	a := newTestAllocator(nil)
	classID, _ := a.ClassForSize(64)
	chunk, err := a.Allocate(classID)
	require.NoError(t, err)

	before := a.Stats()[classID].ChunksFree
	a.Free(classID, chunk)
	after := a.Stats()[classID].ChunksFree
	assert.Equal(t, before+1, after)
}

func TestStatsReflectsAllocs(t *testing.T) {
	a := newTestAllocator(nil)
	classID, _ := a.ClassForSize(64)
	_, err := a.Allocate(classID)
	require.NoError(t, err)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats[classID].Allocs)
}
