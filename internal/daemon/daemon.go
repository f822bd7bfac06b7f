// Package daemon hosts the warm market-data mirror: the subscription
// manager feeding the cache, the IPC server answering local clients, and
// the process lifecycle around them (PID file, socket file, log file,
// graceful shutdown).
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperdrift/hl/internal/cache"
	"github.com/hyperdrift/hl/internal/exchange"
	"github.com/hyperdrift/hl/internal/ipc"
	"github.com/hyperdrift/hl/internal/paths"
)

// Options configures one daemon run.
type Options struct {
	Testnet         bool
	RefreshInterval time.Duration // perp-metadata refresh, default 60s
	MetricsAddr     string        // optional localhost debug listener
	WSURL           string        // override, defaults per network
	HTTPURL         string        // override, defaults per network
}

// readyPollInterval and readyTimeout govern how long `server start` waits
// for the detached child's socket to appear.
const (
	readyPollInterval = 100 * time.Millisecond
	readyTimeout      = 5 * time.Second
)

// Run executes the daemon in the foreground until a signal or a shutdown
// request arrives. It owns every file under ~/.hl except user-config.json.
func Run(ctx context.Context, opts Options) error {
	if err := paths.Ensure(); err != nil {
		return err
	}
	if err := acquirePIDFile(paths.PIDFile()); err != nil {
		return err
	}
	defer os.Remove(paths.PIDFile())

	logFile, err := os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	log.Logger = zerolog.New(logFile).With().Timestamp().Logger()

	writeOptionsEcho(opts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := opts.WSURL
	if wsURL == "" {
		wsURL = exchange.WSURL(opts.Testnet)
	}
	httpURL := opts.HTTPURL
	if httpURL == "" {
		httpURL = exchange.HTTPURL(opts.Testnet)
	}

	metrics := NewMetrics()
	c := cache.New()
	transport := exchange.NewTransport(wsURL)
	transport.OnReconnect = func() { metrics.WSReconnects.Inc() }
	info := exchange.NewInfo(httpURL)
	manager := NewManager(transport, info, c, metrics, opts.RefreshInterval)

	log.Info().Bool("testnet", opts.Testnet).Str("ws", wsURL).Msg("daemon starting")
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting subscription manager: %w", err)
	}

	disp := &dispatcher{
		cache:     c,
		startedAt: time.Now(),
		testnet:   opts.Testnet,
		connected: manager.Connected,
		metrics:   metrics,
	}
	server, err := ipc.NewServer(paths.Socket(), disp)
	if err != nil {
		manager.Stop()
		return err
	}

	shutdownCtx, requestShutdown := context.WithCancel(ctx)
	defer requestShutdown()
	server.OnShutdownRequest = func() {
		log.Info().Msg("shutdown requested over ipc")
		requestShutdown()
	}

	if opts.MetricsAddr != "" {
		go serveDebug(opts.MetricsAddr, metrics, manager, disp)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if manager.Connected() {
					metrics.WSConnected.Set(1)
				} else {
					metrics.WSConnected.Set(0)
				}
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()
	log.Info().Str("socket", paths.Socket()).Msg("daemon ready")

	select {
	case <-shutdownCtx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("ipc server failed")
		}
	}

	// Teardown order: stop accepting and drain handlers, then stop
	// subscriptions and close the transport, then release files.
	log.Info().Msg("daemon stopping")
	_ = server.Close()
	manager.Stop()
	log.Info().Msg("daemon stopped")
	return nil
}

// writeOptionsEcho records the startup options for later inspection
// (primarily which network the daemon is mirroring). Best effort.
func writeOptionsEcho(opts Options) {
	echo := map[string]any{
		"testnet":    opts.Testnet,
		"pid":        os.Getpid(),
		"started_at": time.Now().UnixMilli(),
	}
	data, err := json.MarshalIndent(echo, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(paths.ServerJSON(), append(data, '\n'), 0o644); err != nil {
		log.Warn().Err(err).Msg("writing server.json failed")
	}
}
