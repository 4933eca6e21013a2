// Command memcached runs the server described by spec.md: a slab-allocated,
// segmented-LRU key/value cache speaking the ASCII and binary memcached
// protocols over TCP, UDP and Unix sockets.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/skipor/memcached/config"
	"github.com/skipor/memcached/log"
	"github.com/skipor/memcached/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()

	fs := pflag.NewFlagSet("memcached", pflag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file overlaying the defaults")
	config.FlagSet(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *configPath != "" {
		if err := config.LoadYAML(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "memcached: loading %s: %v\n", *configPath, err)
			return 1
		}
		// Flags take precedence over the config file: re-parse so any
		// flag the user actually passed wins back over the YAML overlay.
		fs.Parse(args)
	}

	level, err := log.LevelFromString(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memcached: %v\n", err)
		return 2
	}
	logger := log.NewLogger(level, os.Stderr)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Errorf("memcached: startup: %v", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	errc := make(chan error, 1)
	go func() { errc <- srv.Run() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Errorf("memcached: %v", err)
			return 1
		}
		return 0
	case s := <-sig:
		logger.Infof("memcached: received %s, shutting down", s)
		if err := srv.Close(); err != nil {
			logger.Errorf("memcached: shutdown: %v", err)
			return 1
		}
		return 0
	}
}
