// Package config holds the server's recognized options, spec.md §6,
// loaded from CLI flags (github.com/spf13/pflag) and, optionally, a YAML
// override file (gopkg.in/yaml.v3) — see SPEC_FULL.md's AMBIENT STACK
// section for why these two and not a cobra command tree.
package config

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized options, spec.md §6, with the
// defaults given in parentheses there.
type Config struct {
	// Listening sockets.
	Port     int    `yaml:"port"`
	UDPPort  int    `yaml:"udp_port"`
	UnixSock string `yaml:"unix_socket"`
	UnixMask uint32 `yaml:"unix_mask"`

	// Slab allocator / item sizing.
	MaxBytes         int64   `yaml:"maxbytes"`
	Factor           float64 `yaml:"factor"`
	ChunkSize        int     `yaml:"chunk_size"`
	ItemSizeMax      int     `yaml:"item_size_max"`
	SlabPageSize     int     `yaml:"slab_page_size"`
	SlabChunkSizeMax int     `yaml:"slab_chunk_size_max"`

	// Connections / workers.
	MaxConns      int `yaml:"maxconns"`
	Backlog       int `yaml:"backlog"`
	ReqsPerEvent  int `yaml:"reqs_per_event"`
	NumThreads    int `yaml:"num_threads"`

	// Slab rebalance.
	SlabReassign      bool    `yaml:"slab_reassign"`
	SlabAutomove      int     `yaml:"slab_automove"`
	SlabAutomoveRatio float64 `yaml:"slab_automove_ratio"`
	SlabAutomoveWindow int    `yaml:"slab_automove_window"`

	// LRU / crawler.
	LRUCrawler        bool    `yaml:"lru_crawler"`
	LRUMaintainerThread bool  `yaml:"lru_maintainer_thread"`
	LRUSegmented      bool    `yaml:"lru_segmented"`
	HotLRUPct         int     `yaml:"hot_lru_pct"`
	WarmLRUPct        int     `yaml:"warm_lru_pct"`
	HotMaxFactor      float64 `yaml:"hot_max_factor"`
	WarmMaxFactor     float64 `yaml:"warm_max_factor"`
	TempLRU           bool    `yaml:"temp_lru"`
	TemporaryTTL      int64   `yaml:"temporary_ttl"`

	// Store policy.
	UseCAS       bool `yaml:"use_cas"`
	FlushEnabled bool `yaml:"flush_enabled"`
	DumpEnabled  bool `yaml:"dump_enabled"`

	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	TailRepairTime time.Duration `yaml:"tail_repair_time"`
	HashPowerInit  int           `yaml:"hashpower_init"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the spec.md §6 defaults.
func Default() Config {
	return Config{
		Port:             11211,
		UnixMask:         0700,
		MaxBytes:         64 << 20,
		Factor:           1.25,
		ChunkSize:        48,
		ItemSizeMax:      1 << 20,
		SlabPageSize:     1 << 20,
		SlabChunkSizeMax: 512 << 10,
		MaxConns:         1024,
		Backlog:          1024,
		ReqsPerEvent:     20,
		NumThreads:       4,
		SlabReassign:       true,
		SlabAutomove:       1,
		SlabAutomoveRatio:  0.8,
		SlabAutomoveWindow: 30,
		LRUCrawler:          false,
		LRUMaintainerThread: false,
		LRUSegmented:        true,
		HotLRUPct:           20,
		WarmLRUPct:          40,
		HotMaxFactor:        0.2,
		WarmMaxFactor:       2.0,
		TempLRU:             false,
		TemporaryTTL:        61,
		UseCAS:              true,
		FlushEnabled:        true,
		DumpEnabled:         true,
		IdleTimeout:         0,
		TailRepairTime:      60 * time.Second,
		HashPowerInit:       0,
		LogLevel:            "INFO",
	}
}

// FlagSet registers Config fields onto fs as flags bound directly to
// cfg's fields and defaulting to their current values, so fs.Parse writes
// the parsed values straight into cfg. HotLRUPct and WarmLRUPct have no
// flag.
func FlagSet(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP listen port (0 disables TCP)")
	fs.IntVar(&cfg.UDPPort, "udp-port", cfg.UDPPort, "UDP listen port (0 disables UDP)")
	fs.StringVar(&cfg.UnixSock, "unix-socket", cfg.UnixSock, "Unix domain socket path (empty disables it)")
	fs.Uint32Var(&cfg.UnixMask, "unix-mask", cfg.UnixMask, "Access mask for the unix socket file")

	fs.Int64Var(&cfg.MaxBytes, "maxbytes", cfg.MaxBytes, "slab allocator memory budget, bytes")
	fs.Float64Var(&cfg.Factor, "factor", cfg.Factor, "slab class growth factor")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "minimum slab chunk size")
	fs.IntVar(&cfg.ItemSizeMax, "item-size-max", cfg.ItemSizeMax, "maximum value size")
	fs.IntVar(&cfg.SlabPageSize, "slab-page-size", cfg.SlabPageSize, "slab page size")
	fs.IntVar(&cfg.SlabChunkSizeMax, "slab-chunk-size-max", cfg.SlabChunkSizeMax, "largest directly served chunk size")

	fs.IntVar(&cfg.MaxConns, "maxconns", cfg.MaxConns, "maximum concurrent connections")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "listen backlog")
	fs.IntVar(&cfg.ReqsPerEvent, "reqs-per-event", cfg.ReqsPerEvent, "commands processed per wakeup before yielding")
	fs.IntVar(&cfg.NumThreads, "num-threads", cfg.NumThreads, "worker pool size")

	fs.BoolVar(&cfg.SlabReassign, "slab-reassign", cfg.SlabReassign, "enable slab page rebalancing")
	fs.IntVar(&cfg.SlabAutomove, "slab-automove", cfg.SlabAutomove, "automover aggressiveness (0 disables)")
	fs.Float64Var(&cfg.SlabAutomoveRatio, "slab-automove-ratio", cfg.SlabAutomoveRatio, "automover trigger ratio")
	fs.IntVar(&cfg.SlabAutomoveWindow, "slab-automove-window", cfg.SlabAutomoveWindow, "automover sliding window size")

	fs.BoolVar(&cfg.LRUCrawler, "lru-crawler", cfg.LRUCrawler, "enable the background expired-item crawler")
	fs.BoolVar(&cfg.LRUMaintainerThread, "lru-maintainer", cfg.LRUMaintainerThread, "enable the LRU maintainer thread")
	fs.BoolVar(&cfg.LRUSegmented, "lru-segmented", cfg.LRUSegmented, "enable HOT/WARM/COLD/TEMP segmentation")
	fs.Float64Var(&cfg.HotMaxFactor, "hot-max-factor", cfg.HotMaxFactor, "HOT segment cap as a fraction of class memory")
	fs.Float64Var(&cfg.WarmMaxFactor, "warm-max-factor", cfg.WarmMaxFactor, "WARM segment cap as a fraction of class memory")
	fs.BoolVar(&cfg.TempLRU, "temp-lru", cfg.TempLRU, "route short-TTL items to the TEMP segment")
	fs.Int64Var(&cfg.TemporaryTTL, "temporary-ttl", cfg.TemporaryTTL, "TTL threshold (seconds) for TEMP eligibility")

	fs.BoolVar(&cfg.UseCAS, "use-cas", cfg.UseCAS, "enable CAS versioning")
	fs.BoolVar(&cfg.FlushEnabled, "flush-enabled", cfg.FlushEnabled, "allow flush_all")
	fs.BoolVar(&cfg.DumpEnabled, "dump-enabled", cfg.DumpEnabled, "allow lru_crawler dump-style introspection")

	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "idle connection timeout (0 disables)")
	fs.DurationVar(&cfg.TailRepairTime, "tail-repair-time", cfg.TailRepairTime, "age after which a pinned tail item is presumed leaked")
	fs.IntVar(&cfg.HashPowerInit, "hashpower-init", cfg.HashPowerInit, "initial hash table size as a power of two (0 = default 64K buckets)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN, ERROR or FATAL")
}

// LoadYAML overlays file's YAML content onto cfg. A missing file is not
// an error; callers pass an explicit --config flag when they want one.
func LoadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
