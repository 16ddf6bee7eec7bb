// salesdbd is the sales time-series server daemon.
//
// A day closes every storage.day_length when set, on SIGUSR1, or when ENTER
// is pressed on an interactive terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/xtxerr/salesdb/internal/auth"
	"github.com/xtxerr/salesdb/internal/loader"
	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/server"
	"github.com/xtxerr/salesdb/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("salesdbd")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "salesdbd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "", "config file path (defaults only when empty)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "day file directory (overrides config)")
	watch := flag.Bool("watch", false, "reload log level when the config file changes")
	flag.Parse()

	// A missing .env is normal.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if err := loader.Validate(cfg); err != nil {
		return err
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON())
	log.Info("salesdbd starting", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// User directory
	// =========================================================================

	var users auth.Directory
	switch cfg.Auth.Backend {
	case loader.BackendRedis:
		rd, err := auth.NewRedisDirectory(ctx, loader.ToRedisConfig(&cfg.Auth))
		if err != nil {
			return fmt.Errorf("connect user directory: %w", err)
		}
		defer rd.Close()
		users = rd
		log.Info("users stored in redis", "addr", cfg.Auth.Redis.Addr)
	default:
		users = auth.NewMemoryDirectory(cfg.Auth.BcryptCost)
		log.Info("users stored in memory")
	}

	// =========================================================================
	// Store
	// =========================================================================

	store, err := storage.New(loader.ToStorageConfig(&cfg.Storage), users)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	go rolloverOnSignal(ctx, store)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		go rolloverOnEnter(ctx, store)
	}

	if *watch && *cfgPath != "" {
		w := loader.NewWatcher(*cfgPath, loader.DefaultWatchInterval, func(c *loader.Config, err error) {
			if err != nil {
				log.Warn("config reload rejected", "error", err)
				return
			}
			logging.SetLevel(logging.ParseLevel(c.Logging.Level))
			log.Info("config reloaded", "log_level", c.Logging.Level)
		})
		w.Start()
		defer w.Stop()
	}

	// =========================================================================
	// Server
	// =========================================================================

	srvCfg := &server.Config{
		Listen:             cfg.Server.Listen,
		MaxFrameSize:       int(cfg.Server.MaxFrameSize),
		ShutdownTimeout:    cfg.Server.ShutdownTimeout.Duration(),
		RateLimitPerMinute: cfg.Auth.RateLimitPerMinute,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsListen = cfg.Metrics.Listen
	}

	err = server.New(srvCfg, store).Run(ctx)
	log.Info("salesdbd stopped")
	return err
}

func rolloverOnSignal(ctx context.Context, store *storage.Store) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			advance(store, "signal")
		}
	}
}

// rolloverOnEnter closes a day on every line read from stdin. The read
// blocks until the process exits.
func rolloverOnEnter(ctx context.Context, store *storage.Store) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		advance(store, "stdin")
	}
}

func advance(store *storage.Store, trigger string) {
	id, err := store.AdvanceDay()
	if err != nil {
		log.Error("day rollover failed", "trigger", trigger, "error", err)
		return
	}
	log.Info("day closed", "day_id", id, "trigger", trigger)
}
