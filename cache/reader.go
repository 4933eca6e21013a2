package cache

import "io"

// itemReader is the ItemReader returned by Get/Gets: it streams the
// item's value without copying it out of the slab chunk, and releases
// the store's reference on Close (conn.go's sendGetResponse pattern:
// `view.Reader.WriteTo(c)` then `view.Reader.Close()`).
type itemReader struct {
	cache *Cache
	item  *storedItem
}

func (r *itemReader) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.item.data)
	return int64(n), err
}

func (r *itemReader) Close() error {
	r.cache.release(r.item)
	return nil
}
