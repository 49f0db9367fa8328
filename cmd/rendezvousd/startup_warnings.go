package main

import (
	"log/slog"
	"time"

	"github.com/tidewave/rendezvous/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnsPerIP <= 0 {
		logger.Warn("startup security warning: MAX_CONNS_PER_IP is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_conns_per_ip_unlimited_in_prod",
			"max_conns_per_ip", cfg.MaxConnsPerIP,
			"mode", cfg.Mode,
		)
	}

	if cfg.ApprovalTimeout <= 0 {
		logger.Warn("startup security warning: APPROVAL_TIMEOUT is 0 (pending members wait forever for a host verdict)",
			"warning_code", "approval_timeout_disabled",
			"mode", cfg.Mode,
		)
	}

	// A huge message cap weakens the oversized-frame DoS hardening.
	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.JoinTokenTTL > time.Hour {
		logger.Warn("startup security warning: JOIN_TOKEN_TTL is very large (join tokens stay redeemable long after creation)",
			"warning_code", "join_token_ttl_large",
			"join_token_ttl", cfg.JoinTokenTTL,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
