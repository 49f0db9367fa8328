// Package config loads the relay's runtime configuration from environment
// variables and command-line flags (flags win), and builds the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	envVarListenAddr      = "RENDEZVOUS_LISTEN_ADDR"
	envVarMode            = "RENDEZVOUS_MODE"
	envVarLogFormat       = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel        = "RENDEZVOUS_LOG_LEVEL"
	envVarShutdownTimeout = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Transport abuse limits.
	envVarMaxConnsPerIP        = "MAX_CONNS_PER_IP"
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarSendQueueLength      = "SEND_QUEUE_LENGTH"

	// Room lifecycle knobs.
	envVarHeartbeatInterval = "HEARTBEAT_INTERVAL"
	envVarJoinTokenTTL      = "JOIN_TOKEN_TTL"
	envVarApprovalTimeout   = "APPROVAL_TIMEOUT"
	envVarBcryptCost        = "BCRYPT_COST"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultMode            Mode = ModeDev

	DefaultMaxConnsPerIP        = 15
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 40
	DefaultSendQueueLength      = 64

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultJoinTokenTTL      = 5 * time.Minute
	// DefaultApprovalTimeout bounds how long a pending member may wait for the
	// host's verdict before being auto-rejected. Zero disables the bound and
	// leaves pending members waiting until the host answers or disconnects.
	DefaultApprovalTimeout = 60 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	MaxConnsPerIP        int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int

	HeartbeatInterval time.Duration
	JoinTokenTTL      time.Duration
	ApprovalTimeout   time.Duration
	BcryptCost        int
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	heartbeatInterval, err := envDurationOrDefault(lookup, envVarHeartbeatInterval, DefaultHeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	joinTokenTTL, err := envDurationOrDefault(lookup, envVarJoinTokenTTL, DefaultJoinTokenTTL)
	if err != nil {
		return Config{}, err
	}
	approvalTimeout, err := envDurationOrDefault(lookup, envVarApprovalTimeout, DefaultApprovalTimeout)
	if err != nil {
		return Config{}, err
	}

	maxConnsPerIP, err := envIntOrDefault(lookup, envVarMaxConnsPerIP, DefaultMaxConnsPerIP)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueLength, err := envIntOrDefault(lookup, envVarSendQueueLength, DefaultSendQueueLength)
	if err != nil {
		return Config{}, err
	}
	bcryptCost, err := envIntOrDefault(lookup, envVarBcryptCost, bcrypt.DefaultCost)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := flag.NewFlagSet("rendezvousd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated allowed browser origins, or '*' (env "+envVarAllowedOrigins+")")

	fs.IntVar(&maxConnsPerIP, "max-conns-per-ip", maxConnsPerIP, "Concurrent connections allowed per remote IP, 0 = unlimited (env "+envVarMaxConnsPerIP+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&sendQueueLength, "send-queue-length", sendQueueLength, "Outbound send queue length per connection (env "+envVarSendQueueLength+")")

	fs.DurationVar(&heartbeatInterval, "heartbeat-interval", heartbeatInterval, "Liveness probe period (env "+envVarHeartbeatInterval+")")
	fs.DurationVar(&joinTokenTTL, "join-token-ttl", joinTokenTTL, "Time-to-live of unclaimed join tokens (env "+envVarJoinTokenTTL+")")
	fs.DurationVar(&approvalTimeout, "approval-timeout", approvalTimeout, "Auto-reject pending members after this wait, 0 = wait forever (env "+envVarApprovalTimeout+")")
	fs.IntVar(&bcryptCost, "bcrypt-cost", bcryptCost, "bcrypt cost for room password hashing (env "+envVarBcryptCost+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// Logging defaults track the (possibly flag-overridden) mode unless the
	// format/level was pinned explicitly.
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if maxConnsPerIP < 0 {
		return Config{}, fmt.Errorf("%s/--max-conns-per-ip must be >= 0", envVarMaxConnsPerIP)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be > 0", envVarMaxMessagesPerSecond)
	}
	if sendQueueLength <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-length must be > 0", envVarSendQueueLength)
	}
	if heartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--heartbeat-interval must be > 0", envVarHeartbeatInterval)
	}
	if joinTokenTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--join-token-ttl must be > 0", envVarJoinTokenTTL)
	}
	if approvalTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--approval-timeout must be >= 0 (0 = wait forever)", envVarApprovalTimeout)
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("%s/--bcrypt-cost must be between %d and %d", envVarBcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	return Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  splitCommaList(allowedOriginsStr),

		MaxConnsPerIP:        maxConnsPerIP,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendQueueLength:      sendQueueLength,

		HeartbeatInterval: heartbeatInterval,
		JoinTokenTTL:      joinTokenTTL,
		ApprovalTimeout:   approvalTimeout,
		BcryptCost:        bcryptCost,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn, or error)", raw)
	}
}
