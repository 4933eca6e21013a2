package server

import (
	"net"
	"sync/atomic"

	"github.com/skipor/memcached/cache"
	"github.com/skipor/memcached/clock"
	"github.com/skipor/memcached/log"
	"github.com/skipor/memcached/recycle"
)

// Worker is one of num_threads fixed goroutine pools a listener
// round-robins accepted connections across (spec.md §3's "thread
// model"): each worker owns its connections outright, so connection
// state never needs a global lock.
type Worker struct {
	id    int
	log   log.Logger
	cache *cache.Cache
	maint *cache.Maintainer
	clck  *clock.Clock
	cfg   ConnConfig
	pool  *recycle.Pool

	conns  chan net.Conn
	active int64 // atomic, summed by Listener.totalConns for the maxconns check
}

// NewWorker builds a Worker with a bounded handoff queue; Serve must be
// called to start draining it.
func NewWorker(id int, l log.Logger, c *cache.Cache, m *cache.Maintainer, clk *clock.Clock, cfg ConnConfig, pool *recycle.Pool) *Worker {
	return &Worker{
		id:    id,
		log:   l,
		cache: c,
		maint: m,
		clck:  clk,
		cfg:   cfg,
		pool:  pool,
		conns: make(chan net.Conn, 64),
	}
}

// Assign hands rwc to this worker; non-blocking up to the queue's
// capacity, per the listener's accept loop.
func (w *Worker) Assign(rwc net.Conn, transport Transport) bool {
	select {
	case w.conns <- taggedConn{rwc, transport}:
		return true
	default:
		return false
	}
}

// taggedConn threads a Transport alongside a net.Conn through the
// handoff channel without a second channel.
type taggedConn struct {
	net.Conn
	transport Transport
}

// Serve drains assigned connections, spawning one goroutine per
// connection (spec.md's Design Notes alternative: goroutine-per-
// connection instead of a libevent-style reactor owned by this worker).
func (w *Worker) Serve() {
	for rwc := range w.conns {
		transport := TransportTCP
		if tc, ok := rwc.(taggedConn); ok {
			transport = tc.transport
		}
		go w.handle(rwc, transport)
	}
}

func (w *Worker) handle(rwc net.Conn, transport Transport) {
	atomic.AddInt64(&w.active, 1)
	defer atomic.AddInt64(&w.active, -1)

	c := newConn(w.log, w.cache, w.maint, w.clck, w.cfg, w.pool, rwc, transport)
	c.worker = w
	c.serve()
}

// ActiveConns reports this worker's current connection count.
func (w *Worker) ActiveConns() int64 { return atomic.LoadInt64(&w.active) }

// Close stops accepting new handoffs. Existing connections run to
// completion on their own goroutines.
func (w *Worker) Close() { close(w.conns) }
