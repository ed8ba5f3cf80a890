// Package config provides configuration helpers that define runtime defaults,
// YAML loading, environment overrides, and validation for the jam session
// server.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddr              = ":8080"
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxMessageSize    = 64 * 1024
	defaultSendQueueSize     = 256
	defaultRateLimitBurst    = 20
	defaultRateLimitInterval = time.Second
	defaultRoomCapacity      = 4
	defaultInstrument        = "piano"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"-"`

	RefillIntervalRaw string `yaml:"refill_interval"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// WebSocketConfig holds the per-connection transport limits.
type WebSocketConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	SendQueueSize  int             `yaml:"send_queue_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RoomsConfig tunes the room registry.
type RoomsConfig struct {
	Capacity          int    `yaml:"capacity"`
	DefaultInstrument string `yaml:"default_instrument"`
	ReapEmpty         bool   `yaml:"reap_empty"`
}

// ICEServerConfig is one STUN/TURN entry handed to clients on connect.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// ICEConfig lists the ICE servers clients should use for their peer links.
type ICEConfig struct {
	Servers []ICEServerConfig `yaml:"servers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	ICE       ICEConfig       `yaml:"ice"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            defaultAddr,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: defaultMaxMessageSize,
			SendQueueSize:  defaultSendQueueSize,
			RateLimit: RateLimitConfig{
				Burst:          defaultRateLimitBurst,
				RefillInterval: defaultRateLimitInterval,
			},
		},
		Rooms: RoomsConfig{
			Capacity:          defaultRoomCapacity,
			DefaultInstrument: defaultInstrument,
		},
		ICE: ICEConfig{
			Servers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults. Environment
// variables in the format ${VAR_NAME} are expanded before parsing, and the
// plain environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if raw := cfg.WebSocket.RateLimit.RefillIntervalRaw; raw != "" {
		cfg.WebSocket.RateLimit.RefillInterval, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing refill_interval %q: %w", raw, err)
		}
	}

	return nil
}

// ApplyEnv overlays environment variables read through getenv. Numeric values
// that do not parse as positive integers are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if port := getenv("SERVER_PORT"); port != "" {
		c.Server.Addr = port
	}

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.WebSocket.AllowedOrigins = splitCommaSeparated(origins)
	}

	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.WebSocket.MaxMessageSize = parseMaxMessageSize(maxSize, c.WebSocket.MaxMessageSize)
	}

	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		c.WebSocket.RateLimit.Burst = parseIntValue(burst, c.WebSocket.RateLimit.Burst)
	}

	if interval := getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.WebSocket.RateLimit.RefillInterval = parseRefillInterval(interval, c.WebSocket.RateLimit.RefillInterval)
	}

	if level := getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(level))
	}

	if format := getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = strings.ToLower(strings.TrimSpace(format))
	}

	servers, err := parseICEServersFromValues(
		getenv(envICEServersJSON),
		getenv(envStunURLs),
		getenv(envTurnURLs),
		getenv(envTurnUsername),
		getenv(envTurnCredential),
	)
	if err != nil {
		return err
	}
	if servers != nil {
		c.ICE.Servers = servers
	}

	return nil
}

// Sanitize replaces unusable values with their defaults.
func (c *Config) Sanitize() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		c.WebSocket.MaxMessageSize = defaultMaxMessageSize
	}
	if c.WebSocket.SendQueueSize <= 0 {
		c.WebSocket.SendQueueSize = defaultSendQueueSize
	}
	if c.WebSocket.RateLimit.Burst <= 0 {
		c.WebSocket.RateLimit.Burst = defaultRateLimitBurst
	}
	if c.WebSocket.RateLimit.RefillInterval <= 0 {
		c.WebSocket.RateLimit.RefillInterval = defaultRateLimitInterval
	}
	if c.Rooms.Capacity <= 0 {
		c.Rooms.Capacity = defaultRoomCapacity
	}
	if strings.TrimSpace(c.Rooms.DefaultInstrument) == "" {
		c.Rooms.DefaultInstrument = defaultInstrument
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that the configuration is usable. Returns an error
// describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}

	if _, err := c.ICEServers(); err != nil {
		return err
	}
	return nil
}

// ICEServers converts the configured ICE entries into pion's representation,
// validating each one.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(c.ICE.Servers))
	for i, server := range c.ICE.Servers {
		s := webrtc.ICEServer{
			URLs:     trimAll(server.URLs),
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			s.Credential = server.Credential
		}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("ice.servers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts either whole seconds or a Go duration string.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
