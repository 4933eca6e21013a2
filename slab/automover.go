package slab

import "sync"

// Automover decides which (src, dst) class pair to rebalance next by
// watching per-class eviction rates over a sliding window (spec.md §4.1
// "The automover policy"). It holds no reference to the Allocator so it
// can be driven from a background goroutine that calls Allocator.Stats()
// itself.
type Automover struct {
	mu       sync.Mutex
	ratio    float64
	window   int // number of samples kept per class
	history  [][]uint64
	lastSeen []uint64
}

// NewAutomover builds an Automover. ratio and window correspond to
// settings.slab_automove_ratio and settings.slab_automove_window.
func NewAutomover(ratio float64, window int) *Automover {
	if ratio <= 0 {
		ratio = 0.8
	}
	if window <= 0 {
		window = 30
	}
	return &Automover{ratio: ratio, window: window}
}

// Observe feeds one sample of per-class cumulative eviction counts
// (Allocator.Stats()[i].Evictions) and returns the (src, dst) class pair
// to rebalance when the highest class eviction rate, multiplied by ratio,
// still exceeds the lowest one.
func (a *Automover) Observe(evictions []uint64) (src, dst int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) != len(evictions) {
		a.history = make([][]uint64, len(evictions))
		a.lastSeen = make([]uint64, len(evictions))
		copy(a.lastSeen, evictions)
		return 0, 0, false
	}

	rates := make([]float64, len(evictions))
	for i, total := range evictions {
		delta := total - a.lastSeen[i]
		a.lastSeen[i] = total
		a.history[i] = append(a.history[i], delta)
		if len(a.history[i]) > a.window {
			a.history[i] = a.history[i][len(a.history[i])-a.window:]
		}
		var sum uint64
		for _, d := range a.history[i] {
			sum += d
		}
		rates[i] = float64(sum) / float64(len(a.history[i]))
	}

	maxIdx, minIdx := 0, 0
	for i, r := range rates {
		if r > rates[maxIdx] {
			maxIdx = i
		}
		if r < rates[minIdx] {
			minIdx = i
		}
	}
	if maxIdx == minIdx {
		return 0, 0, false
	}
	if rates[maxIdx]*a.ratio > rates[minIdx] && rates[maxIdx] > 0 {
		// The hot class (highest eviction rate) is the destination that
		// needs more memory; the cold class is the donor.
		return minIdx, maxIdx, true
	}
	return 0, 0, false
}
