package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tidewave/rendezvous/internal/config"
	"github.com/tidewave/rendezvous/internal/httpserver"
	"github.com/tidewave/rendezvous/internal/metrics"
	"github.com/tidewave/rendezvous/internal/relay"
	"github.com/tidewave/rendezvous/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A .env file is optional and only a convenience for local runs; real
	// deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting rendezvousd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_conns_per_ip", cfg.MaxConnsPerIP,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"join_token_ttl", cfg.JoinTokenTTL,
		"approval_timeout", cfg.ApprovalTimeout,
		"allowed_origins", cfg.AllowedOrigins,
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	met := metrics.New()

	hub := relay.New(relay.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		JoinTokenTTL:      cfg.JoinTokenTTL,
		ApprovalTimeout:   cfg.ApprovalTimeout,
		BcryptCost:        cfg.BcryptCost,
		Metrics:           met,
		Logger:            logger,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg.ListenAddr, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	sig := signaling.NewServer(signaling.Config{
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxConnsPerIP:        cfg.MaxConnsPerIP,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		SendQueueLength:      cfg.SendQueueLength,
	}, hub, logger, met)
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(met))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		stopHub()
		<-hubDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop the hub first so every client gets a going-away close before the
	// listener is torn down.
	stopHub()
	<-hubDone

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
