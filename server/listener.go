package server

import (
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/log"
)

// acceptBackoff is how often a TCP/Unix listener rechecks the connection
// count while the connection cap is reached, per spec.md §3
// ("maxconns... new connections wait rather than being refused outright").
const acceptBackoff = 10 * time.Millisecond

// Listener owns one accept loop (TCP, UDP, or Unix) and round-robins
// accepted connections across a fixed worker pool, spec.md §3.
type Listener struct {
	log       log.Logger
	transport Transport
	ln        net.Listener
	workers   []*Worker
	maxConns  int
	next      int64 // atomic, round-robin cursor
	stop      chan struct{}
}

// NewTCPListener binds port and returns a Listener that round-robins onto
// workers.
func NewTCPListener(l log.Logger, port int, backlog int, maxConns int, workers []*Worker) (*Listener, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	return &Listener{log: l, transport: TransportTCP, ln: ln, workers: workers, maxConns: maxConns, stop: make(chan struct{})}, nil
}

// NewUnixListener binds an existing-file-removing Unix domain socket at
// path with the given access mask, per spec.md §6's unix_socket/unix_mask.
func NewUnixListener(l log.Logger, path string, mask os.FileMode, maxConns int, workers []*Worker) (*Listener, error) {
	os.Remove(path) // stale socket file from a prior run; spec.md §3
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	if err := os.Chmod(path, mask); err != nil {
		ln.Close()
		return nil, stackerr.Wrap(err)
	}
	return &Listener{log: l, transport: TransportUnix, ln: ln, workers: workers, maxConns: maxConns, stop: make(chan struct{})}, nil
}

// Serve accepts connections until Close is called, dispatching each one
// to a worker by round robin. While the workers together hold maxConns
// connections (spec.md's maxconns), the newly accepted connection waits,
// rechecking every acceptBackoff, instead of being refused outright, and
// no further Accept happens until one closes. A connection whose worker's
// handoff queue is full is closed.
func (l *Listener) Serve() error {
	for {
		rwc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stop:
				return nil
			default:
			}
			return stackerr.Wrap(err)
		}
		for l.totalConns() >= l.maxConns {
			select {
			case <-l.stop:
				rwc.Close()
				return nil
			case <-time.After(acceptBackoff):
			}
		}
		w := l.workers[atomic.AddInt64(&l.next, 1)%int64(len(l.workers))]
		if !w.Assign(rwc, l.transport) {
			rwc.Close()
		}
	}
}

func (l *Listener) totalConns() int {
	var n int64
	for _, w := range l.workers {
		n += w.ActiveConns()
	}
	return int(n)
}

// Close stops the accept loop and closes the underlying socket.
func (l *Listener) Close() error {
	close(l.stop)
	return l.ln.Close()
}

// UDPListener reads spec.md §4.6's UDP framing: an 8-byte request header
// (request id, sequence number, total datagrams, reserved) prefixing an
// ASCII or binary command, one command per datagram in this
// implementation (no multi-datagram reassembly).
type UDPListener struct {
	log   log.Logger
	conn  *net.UDPConn
	stop  chan struct{}
	cache udpHandler
}

// udpHandler is the subset of conn's command dispatch UDP needs; kept
// narrow so UDPListener doesn't depend on the full conn type.
type udpHandler interface {
	HandleDatagram(payload []byte) []byte
}

// NewUDPListener binds port for UDP command traffic, spec.md §3.
func NewUDPListener(l log.Logger, port int, handler udpHandler) (*UDPListener, error) {
	addr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	return &UDPListener{log: l, conn: conn, stop: make(chan struct{}), cache: handler}, nil
}

const udpHeaderSize = 8
const udpMaxDatagram = 65507

// Serve reads datagrams until Close is called. Each datagram is handled
// synchronously (UDP memcached traffic is overwhelmingly single-command
// gets, so a worker pool buys little here; spec.md's Non-goals exclude
// multi-datagram reassembly for large responses).
func (u *UDPListener) Serve() error {
	buf := make([]byte, udpMaxDatagram)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.stop:
				return nil
			default:
			}
			return stackerr.Wrap(err)
		}
		if n < udpHeaderSize {
			continue
		}
		reqHeader := append([]byte(nil), buf[:udpHeaderSize]...)
		resp := u.cache.HandleDatagram(buf[udpHeaderSize:n])
		out := append(reqHeader, resp...)
		u.conn.WriteToUDP(out, addr)
	}
}

// Close stops the UDP read loop.
func (u *UDPListener) Close() error {
	close(u.stop)
	return u.conn.Close()
}
