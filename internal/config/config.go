package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "VIDMESH_LISTEN_ADDR"
	envVarAllowedOrigins  = "VIDMESH_ALLOWED_ORIGINS"
	envVarLogFormat       = "VIDMESH_LOG_FORMAT"
	envVarLogLevel        = "VIDMESH_LOG_LEVEL"
	envVarMode            = "VIDMESH_MODE"
	envVarShutdownTimeout = "VIDMESH_SHUTDOWN_TIMEOUT"
	envVarStaticDir       = "VIDMESH_STATIC_DIR"
	envVarFrameEmbed      = "VIDMESH_FRAME_EMBED"

	// Signaling WebSocket hardening.
	envVarWSIdleTimeout             = "VIDMESH_WS_IDLE_TIMEOUT"
	envVarWSPingInterval            = "VIDMESH_WS_PING_INTERVAL"
	envVarMaxSignalMessageBytes     = "VIDMESH_MAX_SIGNAL_MESSAGE_BYTES"
	envVarMaxSignalMessagesPerSec   = "VIDMESH_MAX_SIGNAL_MESSAGES_PER_SECOND"
	envVarSessionSendQueueLen       = "VIDMESH_SESSION_SEND_QUEUE_LEN"
	envVarMaxMembersPerRoom         = "VIDMESH_MAX_MEMBERS_PER_ROOM"
	DefaultListenAddr               = "127.0.0.1:8080"
	DefaultShutdown                 = 15 * time.Second
	DefaultMode                Mode = ModeDev

	DefaultWSIdleTimeout           = 60 * time.Second
	DefaultWSPingInterval          = 20 * time.Second
	DefaultMaxSignalMessageBytes   = int64(64 * 1024)
	DefaultMaxSignalMessagesPerSec = 50
	DefaultSessionSendQueueLen     = 64
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

// FrameEmbedPolicy controls whether browsers may embed the served frontend in
// an iframe (X-Frame-Options / CSP frame-ancestors).
type FrameEmbedPolicy string

const (
	FrameEmbedDeny       FrameEmbedPolicy = "deny"
	FrameEmbedSameOrigin FrameEmbedPolicy = "sameorigin"
	FrameEmbedAny        FrameEmbedPolicy = "any"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// StaticDir, when non-empty, is served at / with SPA fallback to index.html.
	StaticDir  string
	FrameEmbed FrameEmbedPolicy

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxSignalMessageBytes     int64
	MaxSignalMessagesPerSec   int
	SessionSendQueueLen       int
	// MaxMembersPerRoom caps room membership; <= 0 means unlimited.
	MaxMembersPerRoom int

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
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
	logFormatDefault := envLogFormat
	if !envLogFormatOK || envLogFormat == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if !envLogLevelOK || envLogLevel == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	frameEmbedStr := envOrDefault(lookup, envVarFrameEmbed, string(FrameEmbedDeny))

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	wsIdleTimeout := DefaultWSIdleTimeout
	if raw, ok := lookup(envVarWSIdleTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSIdleTimeout, raw, err)
		}
		wsIdleTimeout = d
	}

	wsPingInterval := DefaultWSPingInterval
	if raw, ok := lookup(envVarWSPingInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSPingInterval, raw, err)
		}
		wsPingInterval = d
	}

	maxSignalMessageBytes := DefaultMaxSignalMessageBytes
	if raw, ok := lookup(envVarMaxSignalMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalMessageBytes, raw, err)
		}
		maxSignalMessageBytes = n
	}

	maxSignalMessagesPerSec, err := envIntOrDefault(lookup, envVarMaxSignalMessagesPerSec, DefaultMaxSignalMessagesPerSec)
	if err != nil {
		return Config{}, err
	}
	sessionSendQueueLen, err := envIntOrDefault(lookup, envVarSessionSendQueueLen, DefaultSessionSendQueueLen)
	if err != nil {
		return Config{}, err
	}
	maxMembersPerRoom, err := envIntOrDefault(lookup, envVarMaxMembersPerRoom, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("vidmesh-relay", flag.ContinueOnError)
	flagListenAddr := fs.String("listen-addr", listenAddr, "TCP listen address for the HTTP/WebSocket server")
	flagMode := fs.String("mode", modeDefault, "dev or prod")
	flagLogFormat := fs.String("log-format", logFormatDefault, "log format: text or json")
	flagLogLevel := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	flagStaticDir := fs.String("static-dir", staticDir, "directory of frontend assets to serve (empty disables)")
	flagFrameEmbed := fs.String("frame-embed", frameEmbedStr, "frame embedding policy: deny, sameorigin or any")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*flagMode)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*flagLogFormat)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*flagLogLevel)
	if err != nil {
		return Config{}, err
	}
	frameEmbed, err := parseFrameEmbedPolicy(*flagFrameEmbed)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:              *flagListenAddr,
		AllowedOrigins:          allowedOrigins,
		LogFormat:               logFormat,
		LogLevel:                logLevel,
		ShutdownTimeout:         shutdownTimeout,
		Mode:                    mode,
		StaticDir:               *flagStaticDir,
		FrameEmbed:              frameEmbed,
		WSIdleTimeout:           wsIdleTimeout,
		WSPingInterval:          wsPingInterval,
		MaxSignalMessageBytes:   maxSignalMessageBytes,
		MaxSignalMessagesPerSec: maxSignalMessagesPerSec,
		SessionSendQueueLen:     sessionSendQueueLen,
		MaxMembersPerRoom:       maxMembersPerRoom,
	}

	// ICE config errors are carried on the Config rather than failing startup:
	// the relay itself never dials ICE, it only hands the list to browsers via
	// /ice, and /readyz surfaces the error.
	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if iceErr != nil {
		cfg.iceConfigErr = iceErr
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
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
		return "", fmt.Errorf("unsupported mode %q (want dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (want text or json)", raw)
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
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func parseFrameEmbedPolicy(raw string) (FrameEmbedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(FrameEmbedDeny), "":
		return FrameEmbedDeny, nil
	case string(FrameEmbedSameOrigin):
		return FrameEmbedSameOrigin, nil
	case string(FrameEmbedAny), "allow", "allow-all":
		return FrameEmbedAny, nil
	default:
		return "", fmt.Errorf("unsupported frame embed policy %q (want deny, sameorigin or any)", raw)
	}
}

// parseAllowedOrigins splits and normalizes a comma-separated origin list.
// "*" is accepted as a wildcard entry.
func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			out = append(out, "*")
			continue
		}
		normalized, err := normalizeOriginValue(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeOriginValue(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("invalid origin %q: scheme must be http or https", raw)
	}
	if u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid origin %q: want scheme://host[:port]", raw)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}
