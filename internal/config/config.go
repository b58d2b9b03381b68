package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the DialHub server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir  string
	HTTPPort int

	// ARI connection to the Asterisk control plane.
	ARIURL          string // HTTP base URL, e.g. http://localhost:8088/ari
	ARIWebsocketURL string // websocket events URL; derived from ARIURL if empty
	ARIUsername     string
	ARIPassword     string

	// Stasis application names. Channels handed to AIApp are driven by the
	// single-leg AI flow; channels handed to BridgeApp by the two-leg
	// agent/customer flow.
	AIApp     string
	BridgeApp string

	// Outbound dialing.
	TrunkEndpoint string // endpoint template for customer legs, %s = number
	CallerID      string // caller ID presented on originated legs

	// EngineContext is the dialplan context the AI conversation engine
	// lives in. Answered AI channels are continued into it.
	EngineContext string

	// RatePerMinute is the per-minute call rate in dollars used for
	// cost computation at finalize time.
	RatePerMinute float64

	// AgentReadyDelay is how long to wait after the agent leg answers
	// before dialing the customer. Gives the agent a beat to get ready;
	// the value is a UX heuristic, not a protocol requirement.
	AgentReadyDelay time.Duration

	// Reconnection policy for the ARI event connection.
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	JWTSecret   string // secret for dashboard-issued JWTs; empty disables auth
	CORSOrigins string
	LogLevel    string
	LogFormat   string // "text" or "json"
}

// defaults
const (
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8080
	defaultARIURL               = "http://localhost:8088/ari"
	defaultARIUsername          = "dialhub"
	defaultAIApp                = "ai-dialer"
	defaultBridgeApp            = "manual-bridge"
	defaultTrunkEndpoint        = "PJSIP/%s@trunk"
	defaultEngineContext        = "ai-dialer"
	defaultRatePerMinute        = 0.011
	defaultAgentReadyDelay      = 2 * time.Second
	defaultReconnectMaxAttempts = 5
	defaultReconnectBaseDelay   = 5 * time.Second
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
)

// envPrefix is the prefix for all DialHub environment variables.
const envPrefix = "DIALHUB_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

// load is the testable core of Load.
func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialhub", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.ARIURL, "ari-url", defaultARIURL, "Asterisk ARI base URL")
	fs.StringVar(&cfg.ARIWebsocketURL, "ari-ws-url", "", "Asterisk ARI websocket URL (derived from ari-url if empty)")
	fs.StringVar(&cfg.ARIUsername, "ari-username", defaultARIUsername, "ARI username")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "ARI password")
	fs.StringVar(&cfg.AIApp, "ai-app", defaultAIApp, "stasis application name for AI-driven calls")
	fs.StringVar(&cfg.BridgeApp, "bridge-app", defaultBridgeApp, "stasis application name for manual agent/customer calls")
	fs.StringVar(&cfg.TrunkEndpoint, "trunk-endpoint", defaultTrunkEndpoint, "outbound endpoint template, %s is replaced with the dialed number")
	fs.StringVar(&cfg.CallerID, "caller-id", "", "caller ID for originated legs")
	fs.StringVar(&cfg.EngineContext, "engine-context", defaultEngineContext, "dialplan context of the AI conversation engine")
	fs.Float64Var(&cfg.RatePerMinute, "rate-per-minute", defaultRatePerMinute, "per-minute call rate in dollars")
	fs.DurationVar(&cfg.AgentReadyDelay, "agent-ready-delay", defaultAgentReadyDelay, "delay between agent answer and customer dial")
	fs.IntVar(&cfg.ReconnectMaxAttempts, "reconnect-max-attempts", defaultReconnectMaxAttempts, "maximum ARI reconnection attempts before giving up")
	fs.DurationVar(&cfg.ReconnectBaseDelay, "reconnect-base-delay", defaultReconnectBaseDelay, "base delay between ARI reconnection attempts")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "secret for verifying dashboard JWTs (empty disables dial endpoint auth)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg, lookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, lookupEnv func(string) (string, bool)) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":               envPrefix + "DATA_DIR",
		"http-port":              envPrefix + "HTTP_PORT",
		"ari-url":                envPrefix + "ARI_URL",
		"ari-ws-url":             envPrefix + "ARI_WS_URL",
		"ari-username":           envPrefix + "ARI_USERNAME",
		"ari-password":           envPrefix + "ARI_PASSWORD",
		"ai-app":                 envPrefix + "AI_APP",
		"bridge-app":             envPrefix + "BRIDGE_APP",
		"trunk-endpoint":         envPrefix + "TRUNK_ENDPOINT",
		"caller-id":              envPrefix + "CALLER_ID",
		"engine-context":         envPrefix + "ENGINE_CONTEXT",
		"rate-per-minute":        envPrefix + "RATE_PER_MINUTE",
		"agent-ready-delay":      envPrefix + "AGENT_READY_DELAY",
		"reconnect-max-attempts": envPrefix + "RECONNECT_MAX_ATTEMPTS",
		"reconnect-base-delay":   envPrefix + "RECONNECT_BASE_DELAY",
		"jwt-secret":             envPrefix + "JWT_SECRET",
		"cors-origins":           envPrefix + "CORS_ORIGINS",
		"log-level":              envPrefix + "LOG_LEVEL",
		"log-format":             envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := lookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "ari-url":
			cfg.ARIURL = val
		case "ari-ws-url":
			cfg.ARIWebsocketURL = val
		case "ari-username":
			cfg.ARIUsername = val
		case "ari-password":
			cfg.ARIPassword = val
		case "ai-app":
			cfg.AIApp = val
		case "bridge-app":
			cfg.BridgeApp = val
		case "trunk-endpoint":
			cfg.TrunkEndpoint = val
		case "caller-id":
			cfg.CallerID = val
		case "engine-context":
			cfg.EngineContext = val
		case "rate-per-minute":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RatePerMinute = v
			}
		case "agent-ready-delay":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.AgentReadyDelay = v
			}
		case "reconnect-max-attempts":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ReconnectMaxAttempts = v
			}
		case "reconnect-base-delay":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ReconnectBaseDelay = v
			}
		case "jwt-secret":
			cfg.JWTSecret = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.ARIURL == "" {
		return fmt.Errorf("ari-url must not be empty")
	}
	if c.AIApp == "" || c.BridgeApp == "" {
		return fmt.Errorf("ai-app and bridge-app must not be empty")
	}
	if c.AIApp == c.BridgeApp {
		return fmt.Errorf("ai-app and bridge-app must differ, both are %q", c.AIApp)
	}
	if !strings.Contains(c.TrunkEndpoint, "%s") {
		return fmt.Errorf("trunk-endpoint must contain a %%s placeholder, got %q", c.TrunkEndpoint)
	}
	if c.RatePerMinute < 0 {
		return fmt.Errorf("rate-per-minute must not be negative, got %v", c.RatePerMinute)
	}
	if c.AgentReadyDelay < 0 {
		return fmt.Errorf("agent-ready-delay must not be negative, got %v", c.AgentReadyDelay)
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("reconnect-max-attempts must be at least 1, got %d", c.ReconnectMaxAttempts)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect-base-delay must be positive, got %v", c.ReconnectBaseDelay)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogLevel maps the configured log level string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
