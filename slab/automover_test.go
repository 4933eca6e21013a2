package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutomoverFirstObserveSeeds(t *testing.T) {
	a := NewAutomover(0.8, 4)
	_, _, ok := a.Observe([]uint64{0, 0, 0})
	assert.False(t, ok, "first sample only seeds lastSeen, never triggers")
}

func TestAutomoverTriggersOnSkewedEvictionRate(t *testing.T) {
	a := NewAutomover(0.5, 4)
	a.Observe([]uint64{0, 0})
	// class 1 evicts heavily every round, class 0 never does.
	var src, dst int
	var ok bool
	for i := 0; i < 4; i++ {
		src, dst, ok = a.Observe([]uint64{0, uint64((i + 1) * 100)})
	}
	assert.True(t, ok)
	assert.Equal(t, 0, src, "the idle class donates memory")
	assert.Equal(t, 1, dst, "the heavily evicting class receives it")
}

func TestAutomoverNoTriggerWhenRatesAreClose(t *testing.T) {
	a := NewAutomover(0.8, 4)
	a.Observe([]uint64{0, 0})
	_, _, ok := a.Observe([]uint64{100, 105})
	assert.False(t, ok)
}

func TestAutomoverResetsOnClassCountChange(t *testing.T) {
	a := NewAutomover(0.8, 4)
	a.Observe([]uint64{0, 0})
	a.Observe([]uint64{50, 100})
	// Allocator grew an extra class (e.g. after reconfiguration): history
	// must reseed rather than panic on a length mismatch.
	_, _, ok := a.Observe([]uint64{50, 100, 0})
	assert.False(t, ok)
}
