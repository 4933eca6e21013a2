// Package tag holds compile-time build tags shared across the module.
package tag

// Debug enables extra invariant checks and pointer poisoning in the hot
// data structures (lru, slab). It costs allocations and extra
// branches, so it stays false in a normal build; flip it with
// `-tags debug` during development.
const Debug = debugTag
