package server

import (
	"net"
	"os"
	"time"

	"github.com/skipor/memcached/cache"
	"github.com/skipor/memcached/clock"
	"github.com/skipor/memcached/config"
	"github.com/skipor/memcached/log"
	"github.com/skipor/memcached/recycle"
)

// netListener is the common shape of Listener (TCP/Unix): accept a
// stream of connections until Close is called.
type netListener interface {
	Serve() error
	Close() error
}

// Server owns every long-lived piece spec.md §3 describes: the item
// store, the background maintainer, the worker pool, and whichever
// combination of TCP/UDP/Unix listeners the configuration enables.
type Server struct {
	cfg   config.Config
	log   log.Logger
	clock *clock.Clock
	cache *cache.Cache
	maint *cache.Maintainer
	pool  *recycle.Pool

	workers   []*Worker
	listeners []netListener
	udp       *UDPListener
}

// New builds a Server from cfg but does not yet start accepting
// connections; call Run for that.
func New(cfg config.Config, l log.Logger) (*Server, error) {
	level, err := log.LevelFromString(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if l == nil {
		l = log.NewLogger(level, os.Stderr)
	}

	cacheCfg := cache.Config{
		MaxBytes:       cfg.MaxBytes,
		ChunkSizeMin:   cfg.ChunkSize,
		Factor:         cfg.Factor,
		PageSize:       cfg.SlabPageSize,
		ChunkSizeMax:   cfg.SlabChunkSizeMax,
		MaxItemSize:    cfg.ItemSizeMax,
		UseCAS:         cfg.UseCAS,
		FlushEnabled:   cfg.FlushEnabled,
		TempLRUEnabled: cfg.TempLRU,
		TemporaryTTL:   cfg.TemporaryTTL,
		HotMaxFactor:   cfg.HotMaxFactor,
		WarmMaxFactor:  cfg.WarmMaxFactor,
		TailRepairTime: int64(cfg.TailRepairTime / time.Second),
		HashPowerInit:  cfg.HashPowerInit,
		NumItemLocks:   1024,
	}
	checkStoreConfig(cacheCfg)

	clk := clock.New()
	c := cache.New(cacheCfg, clk, l)
	maint := cache.NewMaintainer(c, cache.MaintainerConfig{
		Enabled:              cfg.LRUMaintainerThread,
		CrawlerEnabled:       cfg.LRUCrawler,
		RebalanceEnabled:     cfg.SlabReassign && cfg.SlabAutomove > 0,
		AutomoveRatio:        cfg.SlabAutomoveRatio,
		AutomoveWindowSize:   cfg.SlabAutomoveWindow,
	}, l)

	pool := recycle.NewPool(recycle.WithChunkRange(64, 1<<20))

	s := &Server{
		cfg:   cfg,
		log:   l,
		clock: clk,
		cache: c,
		maint: maint,
		pool:  pool,
	}

	connCfg := ConnConfig{
		MaxItemSize:  cfg.ItemSizeMax,
		ReqsPerEvent: cfg.ReqsPerEvent,
		IdleTimeout:  cfg.IdleTimeout,
	}
	numWorkers := cfg.NumThreads
	if numWorkers < 1 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		s.workers = append(s.workers, NewWorker(i, l, c, maint, clk, connCfg, pool))
	}

	if cfg.Port != 0 {
		tcp, err := NewTCPListener(l, cfg.Port, cfg.Backlog, cfg.MaxConns, s.workers)
		if err != nil {
			return nil, err
		}
		s.listeners = append(s.listeners, tcp)
	}
	if cfg.UnixSock != "" {
		unix, err := NewUnixListener(l, cfg.UnixSock, os.FileMode(cfg.UnixMask), cfg.MaxConns, s.workers)
		if err != nil {
			return nil, err
		}
		s.listeners = append(s.listeners, unix)
	}
	if cfg.UDPPort != 0 {
		udp, err := NewUDPListener(l, cfg.UDPPort, s)
		if err != nil {
			return nil, err
		}
		s.udp = udp
	}
	return s, nil
}

// Run starts the clock, the maintainer, every worker, and every
// configured listener, blocking until Close is called or a listener
// fails fatally.
func (s *Server) Run() error {
	go s.clock.Run()
	if s.maint.IsEnabled() {
		go s.maint.Run()
	}
	for _, w := range s.workers {
		go w.Serve()
	}
	errc := make(chan error, len(s.listeners)+1)
	for _, l := range s.listeners {
		l := l
		go func() { errc <- l.Serve() }()
	}
	if s.udp != nil {
		go func() { errc <- s.udp.Serve() }()
	}
	return <-errc
}

// Close shuts every listener, worker, the maintainer, and the clock down.
func (s *Server) Close() error {
	var firstErr error
	for _, l := range s.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.udp != nil {
		s.udp.Close()
	}
	for _, w := range s.workers {
		w.Close()
	}
	if s.maint.IsEnabled() {
		s.maint.Stop()
	}
	s.clock.Stop()
	return firstErr
}

// HandleDatagram implements the listener's udpHandler contract for
// connectionless UDP traffic (spec.md §3): it drives the same ASCII/
// binary dispatch a TCP connection uses, over an in-process net.Pipe, and
// returns whatever bytes that single command wrote.
func (s *Server) HandleDatagram(payload []byte) []byte {
	client, serverSide := net.Pipe()
	connCfg := ConnConfig{MaxItemSize: s.cfg.ItemSizeMax, ReqsPerEvent: 1}
	c := newConn(s.log, s.cache, s.maint, s.clock, connCfg, s.pool, serverSide, TransportUDP)

	done := make(chan []byte, 1)
	go func() {
		c.dispatchOne()
		c.writer.Flush()
		done <- nil
	}()

	go func() {
		client.Write(payload)
		client.Close()
	}()

	out := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	for {
		client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := client.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	<-done
	serverSide.Close()
	return out
}
