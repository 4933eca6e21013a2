package server

import (
	"bufio"
	"bytes"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/recycle"
)

// MaxCommandLength bounds a single ASCII command line, guarding against
// a client that never sends \n.
const MaxCommandLength = 8192

// InitialReadBufferSize is the size of each connection's bufio read
// buffer. The buffer is never grown: a command line that does not fit in
// it is rejected by readLine, so in practice lines are bounded by this
// size rather than by MaxCommandLength. maxReadBufferGrowths is not used.
const (
	InitialReadBufferSize = 4096
	maxReadBufferGrowths  = 4
)

// reader wraps a bufio.Reader with the line/data-block primitives the
// ASCII codec needs. Its growths field is never updated.
type reader struct {
	*bufio.Reader
	growths int
	pool    *recycle.Pool // data-block scratch buffers, shared across connections
}

func newReader(r *bufio.Reader, pool *recycle.Pool) *reader {
	return &reader{Reader: r, pool: pool}
}

// readLine reads up to and including the next "\r\n" (or bare "\n"),
// returning the line without the terminator. The underlying buffer keeps
// its size: a line longer than the buffer fails with ErrBadCommandLine.
func (r *reader) readLine() ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, stackerr.Wrap(ErrBadCommandLine)
		}
		return nil, err
	}
	if len(line) > MaxCommandLength {
		return nil, stackerr.Wrap(ErrBadCommandLine)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

// readExact reads exactly n bytes into a pooled scratch slice (so a
// steady stream of set/get commands doesn't churn the GC on every data
// block). Callers that hand the result to the cache (which copies it
// into a slab chunk) should recycle.Pool.Put it back via putScratch once
// done; callers that can't guarantee that should just let it be GC'd, as
// Put silently no-ops on a slice the pool doesn't recognize.
func (r *reader) readExact(n int) ([]byte, error) {
	buf := r.pool.Get(n)
	_, err := readFull(r.Reader, buf)
	return buf, err
}

func (r *reader) putScratch(buf []byte) {
	r.pool.Put(buf)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// discard drops n bytes from the stream without retaining them, used
// after a client error to keep the framing intact (spec.md §7: "body
// still swallowed to keep the stream framed").
func (r *reader) discard(n int) error {
	_, err := r.Discard(n)
	return err
}
