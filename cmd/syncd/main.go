// Package main runs the sync daemon: it restores the offline queue from the
// local store, keeps watched tables warm, pumps realtime changes into the
// cache and drains queued writes to the remote gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/plateshare/synckit/internal/cache"
	"github.com/plateshare/synckit/internal/conflict"
	"github.com/plateshare/synckit/internal/config"
	"github.com/plateshare/synckit/internal/gateway"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/queue"
	"github.com/plateshare/synckit/internal/realtime"
	"github.com/plateshare/synckit/internal/retry"
	"github.com/plateshare/synckit/internal/store"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "synckit.yaml", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logging.Init(os.Stdout, level)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Warn("Config file not found, using defaults", map[string]interface{}{"path": path})
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config) error {
	logging.Info("Sync daemon starting", map[string]interface{}{
		"version":  Version,
		"data_dir": cfg.DataDir,
	})

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewRepository(db)
	defer repo.Close()

	q := queue.NewOperationStore(queue.Options{
		MaxRetries: cfg.Queue.MaxRetries,
		MaxQueued:  cfg.Queue.MaxQueued,
		Backoff: retry.Preset{
			Name:      "queue",
			BaseDelay: cfg.Queue.BaseDelay,
			MaxDelay:  cfg.Queue.MaxDelay,
		},
		Persistence: repo,
	})
	if err := q.Load(); err != nil {
		return err
	}

	resolver := conflict.NewResolver(conflict.Strategy(cfg.Conflict.Strategy), cfg.Conflict.HistoryLimit)

	gw := gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.AuthToken, cfg.Gateway.Timeout)

	orch := cache.NewOrchestrator(cache.Options{
		Gateway:       gw,
		Store:         repo,
		Queue:         q,
		Resolver:      resolver,
		Conflicts:     repo,
		MaxAge:        cfg.Cache.MaxAge,
		SyncInterval:  cfg.Sync.Interval,
		QueueInterval: cfg.Sync.QueueInterval,
		Tables:        cfg.Cache.Tables,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.Start(ctx)
	defer orch.Stop()

	var transport *realtime.Transport
	if cfg.Realtime.URL != "" {
		manager := realtime.NewChannelManager(realtime.ManagerOptions{
			MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
			DedupLimit:           cfg.Realtime.DedupLimit,
		})
		for _, table := range cfg.Cache.Tables {
			manager.Register(table, "public:"+table, table, "")
		}

		transport = realtime.NewTransport(cfg.Realtime.URL, manager,
			retry.PresetByName(cfg.Realtime.ReconnectPreset), orch.HandleRealtimeMessage)
		transport.Start(ctx)
		defer transport.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info("Sync daemon shutting down", map[string]interface{}{"signal": sig.String()})
	return nil
}
