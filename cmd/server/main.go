// Command replq-server is the replicated queue broker process.
// It loads configuration, initialises node identity, and starts the server.
//
// Usage:
//
//	replq-server [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snehjoshi/replq/internal/broker"
	"github.com/snehjoshi/replq/internal/config"
	"github.com/snehjoshi/replq/internal/journal"
	"github.com/snehjoshi/replq/internal/metrics"
	"github.com/snehjoshi/replq/internal/node"
	transphttp "github.com/snehjoshi/replq/internal/transport/http"
	transportws "github.com/snehjoshi/replq/internal/transport/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replq: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise node identity ──────────────────────────────────────────
	n, err := node.New(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	slog.Info("replq starting",
		"node_id", n.ID(),
		"host", cfg.Node.Host,
		"port", cfg.Node.Port,
		"data_dir", n.DataDir(),
		"default_spec", cfg.Replication.DefaultSpec,
		"slaves", cfg.Replication.Slaves,
	)

	// ── 4. Observers: metrics, failure journal, live feed ────────────────────
	metricsReg := &metrics.Registry{}
	feed := transportws.NewHub(logger)

	opts := []broker.Option{
		broker.WithLogger(logger),
		broker.WithMetrics(metricsReg),
		broker.WithObserver(feed),
	}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.JournalPath())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				slog.Warn("journal close error", "err", err)
			}
		}()
		opts = append(opts, broker.WithJournal(j))
	}

	// ── 5. Initialise broker (registry + dispatchers) ────────────────────────
	b, err := broker.New(cfg, string(n.ID()), opts...)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}

	// ── 6. Start HTTP / WebSocket transport ──────────────────────────────────
	srv := transphttp.New(b, cfg, metricsReg, feed)
	addr := fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("replq ready", "node_id", n.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 7. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 8. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests and undelivered replication commands 5 seconds.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := b.Close(shutCtx); err != nil {
		slog.Warn("broker close error", "err", err)
	}

	slog.Info("replq stopped")
	return nil
}
