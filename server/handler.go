package server

import "github.com/skipor/memcached/cache"

// checkStoreConfig validates the invariant the teacher's NewHandler used
// to guard before handing off to recycle.Pool: the store's largest chunk
// class must be able to hold MaxItemSize, or every set of a max-size item
// would unconditionally fail with ErrTooLarge.
func checkStoreConfig(cfg cache.Config) {
	if cfg.ChunkSizeMax < cfg.MaxItemSize {
		panic("server: chunk_size_max must be >= max_item_size")
	}
}