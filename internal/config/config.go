package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the whisper-rooms relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the WebSocket listener settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TLS            TLSConfig     `yaml:"tls"`
}

// RoomsConfig contains room state machine limits.
type RoomsConfig struct {
	CodeLength int `yaml:"code_length"`
	MaxMembers int `yaml:"max_members"` // 0 = unlimited
	MaxPending int `yaml:"max_pending"` // 0 = unlimited
}

// TLSConfig contains optional TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	AuthToken           string          `yaml:"auth_token"`
	AllowedNetworks     []string        `yaml:"allowed_networks"` // CIDRs; empty = allow all
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health/admin endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "0.0.0.0:8080",
			MaxMessageSize: 65536, // 64KB; payloads are short text events
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			DrainTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Rooms: RoomsConfig{
			CodeLength: 6,
			MaxMembers: 0,
			MaxPending: 0,
		},
		Security: SecurityConfig{
			MaxConnections:      10000,
			MaxConnectionsPerIP: 32,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
				MessagesPerSecond:    50,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'whisper-rooms setup' to create one)", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 1048576 {
		return fmt.Errorf("server.max_message_size must not exceed 1048576 (1MB)")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	if c.Server.DrainTimeout > 5*time.Minute {
		return fmt.Errorf("server.drain_timeout must not exceed 5m")
	}
	if c.Server.PingInterval < 0 {
		return fmt.Errorf("server.ping_interval must not be negative")
	}
	if c.Server.PingInterval > 0 && c.Server.PongTimeout <= 0 {
		return fmt.Errorf("server.pong_timeout must be positive when pings are enabled")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Rooms.CodeLength < 4 || c.Rooms.CodeLength > 16 {
		return fmt.Errorf("rooms.code_length must be between 4 and 16")
	}
	if c.Rooms.MaxMembers < 0 {
		return fmt.Errorf("rooms.max_members must not be negative")
	}
	if c.Rooms.MaxPending < 0 {
		return fmt.Errorf("rooms.max_pending must not be negative")
	}

	for _, cidr := range c.Security.AllowedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.allowed_networks entry %q is not a valid CIDR: %w", cidr, err)
		}
	}
	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing the admin API")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies WHISPER_ prefixed environment variables.
// Convention: WHISPER_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"WHISPER_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"WHISPER_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"WHISPER_SERVER_PING_INTERVAL":    func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"WHISPER_SERVER_PONG_TIMEOUT":     func(v string) { cfg.Server.PongTimeout = parseDuration(v, cfg.Server.PongTimeout) },
		"WHISPER_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"WHISPER_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"WHISPER_ROOMS_CODE_LENGTH":       func(v string) { cfg.Rooms.CodeLength = parseInt(v, cfg.Rooms.CodeLength) },
		"WHISPER_ROOMS_MAX_MEMBERS":       func(v string) { cfg.Rooms.MaxMembers = parseInt(v, cfg.Rooms.MaxMembers) },
		"WHISPER_ROOMS_MAX_PENDING":       func(v string) { cfg.Rooms.MaxPending = parseInt(v, cfg.Rooms.MaxPending) },
		"WHISPER_SECURITY_AUTH_TOKEN":     func(v string) { cfg.Security.AuthToken = v },
		"WHISPER_SECURITY_ALLOWED_NETWORKS": func(v string) {
			cfg.Security.AllowedNetworks = splitAndTrim(v)
		},
		"WHISPER_SECURITY_MAX_CONNECTIONS":        func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"WHISPER_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) { cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP) },
		"WHISPER_SECURITY_RATE_LIMIT_ENABLED":     func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"WHISPER_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"WHISPER_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"WHISPER_LOGGING_LEVEL":          func(v string) { cfg.Logging.Level = v },
		"WHISPER_LOGGING_FORMAT":         func(v string) { cfg.Logging.Format = v },
		"WHISPER_LOGGING_FILE":           func(v string) { cfg.Logging.File = v },
		"WHISPER_HEALTH_ENABLED":         func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"WHISPER_HEALTH_LISTEN_ADDRESS":  func(v string) { cfg.Health.ListenAddress = v },
		"WHISPER_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields taken
// from newCfg. Non-reloadable: listen addresses, TLS, code length.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.AuthToken = newCfg.Security.AuthToken
	updated.Security.AllowedNetworks = newCfg.Security.AllowedNetworks
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Rooms.MaxMembers = newCfg.Rooms.MaxMembers
	updated.Rooms.MaxPending = newCfg.Rooms.MaxPending
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Server.TLS != new.Server.TLS {
		warnings = append(warnings, "server.tls requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if old.Rooms.CodeLength != new.Rooms.CodeLength {
		warnings = append(warnings, "rooms.code_length requires restart")
	}
	return warnings
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
