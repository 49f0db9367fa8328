package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tidewave/rendezvous/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := &recordingHandler{mu: h.mu, records: h.records}
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return cp
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func saneProdConfig() config.Config {
	return config.Config{
		Mode:            config.ModeProd,
		MaxConnsPerIP:   config.DefaultMaxConnsPerIP,
		MaxMessageBytes: config.DefaultMaxMessageBytes,
		ApprovalTimeout: config.DefaultApprovalTimeout,
		JoinTokenTTL:    config.DefaultJoinTokenTTL,
	}
}

func TestStartupSecurityWarnings_CleanConfigIsSilent(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, saneProdConfig())
	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %v", codes)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := saneProdConfig()
	cfg.AllowedOrigins = []string{"*"}

	logStartupSecurityWarnings(logger, cfg)

	if !warningCodes(records())["allowed_origins_wildcard"] {
		t.Fatalf("expected allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_UnlimitedIPCapInProd(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := saneProdConfig()
	cfg.MaxConnsPerIP = 0

	logStartupSecurityWarnings(logger, cfg)

	if !warningCodes(records())["max_conns_per_ip_unlimited_in_prod"] {
		t.Fatalf("expected max_conns_per_ip_unlimited_in_prod, got %#v", records())
	}

	// The same setting in dev mode is expected and silent.
	logger2, records2 := newRecordingLogger()
	cfg.Mode = config.ModeDev
	logStartupSecurityWarnings(logger2, cfg)
	if warningCodes(records2())["max_conns_per_ip_unlimited_in_prod"] {
		t.Fatalf("dev mode should not warn about the ip cap")
	}
}

func TestStartupSecurityWarnings_ApprovalTimeoutDisabled(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := saneProdConfig()
	cfg.ApprovalTimeout = 0

	logStartupSecurityWarnings(logger, cfg)

	if !warningCodes(records())["approval_timeout_disabled"] {
		t.Fatalf("expected approval_timeout_disabled, got %#v", records())
	}
}

func TestStartupSecurityWarnings_LargeLimits(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := saneProdConfig()
	cfg.MaxMessageBytes = 16 << 20
	cfg.JoinTokenTTL = 24 * time.Hour

	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	if !codes["max_message_bytes_large"] || !codes["join_token_ttl_large"] {
		t.Fatalf("expected size warnings, got %v", codes)
	}
}
