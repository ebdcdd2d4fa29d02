// ABOUTME: Configuration loading and parsing for wrap-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/wrap-gateway/internal/policy"
)

// Config represents the complete wrap-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Gateway     GatewayConfig     `yaml:"gateway" toml:"gateway"`
	Channels    ChannelsConfig    `yaml:"channels" toml:"channels"`
	Render      RenderConfig      `yaml:"render" toml:"render"`
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
	MCP         MCPConfig         `yaml:"mcp" toml:"mcp"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose :443 publicly through funnel
}

// DatabaseConfig selects the store driver
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, sqlite3 or postgres
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds caller authentication configuration.
// An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
}

// GatewayConfig holds execution behavior
type GatewayConfig struct {
	DefaultMode     string        `yaml:"default_mode" toml:"default_mode"`
	DispatchTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL       time.Duration `yaml:"-" toml:"-"`
	DedupeMaxSize   int           `yaml:"dedupe_max_size" toml:"dedupe_max_size"`

	// Raw string values for unmarshaling
	DispatchTimeoutRaw string `yaml:"dispatch_timeout" toml:"dispatch_timeout"`
	DedupeTTLRaw       string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ChannelsConfig holds the channel adapters
type ChannelsConfig struct {
	SocialDM SocialDMConfig `yaml:"social_dm" toml:"social_dm"`
	Email    EmailConfig    `yaml:"email" toml:"email"`
	Website  WebsiteConfig  `yaml:"website" toml:"website"`
}

// SocialDMConfig configures direct messages. Provider is graph or matrix.
// AccessToken and UserID are fallbacks for the credential store.
type SocialDMConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Provider    string `yaml:"provider" toml:"provider"`
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	UserID      string `yaml:"user_id" toml:"user_id"`
}

// EmailConfig configures transactional email
type EmailConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Sender  string `yaml:"sender" toml:"sender"`
}

// WebsiteConfig configures website chat replies
type WebsiteConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// RenderConfig configures the content renderer chain, tried in order:
// pipeline first, then completion.
type RenderConfig struct {
	Pipeline   PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Timeout    time.Duration    `yaml:"-" toml:"-"`
	TimeoutRaw string           `yaml:"timeout" toml:"timeout"`
}

// PipelineConfig points at the internal render pipeline
type PipelineConfig struct {
	URL        string `yaml:"url" toml:"url"`
	Token      string `yaml:"token" toml:"token"`
	MaxRetries uint64 `yaml:"max_retries" toml:"max_retries"`
}

// CompletionConfig points at an OpenAI-compatible chat completion API
type CompletionConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Model   string `yaml:"model" toml:"model"`
}

// CredentialsConfig holds the key that seals stored channel credentials
type CredentialsConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"` // base64, 32 bytes
}

// EventsConfig configures receipt events. An empty URL disables publishing.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" toml:"amqp_url"`
	Exchange string `yaml:"exchange" toml:"exchange"`
}

// MCPConfig configures the agent tool endpoint
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config file location: WRAP_GATEWAY_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/wrap/gateway.yaml (or ~/.config/wrap/gateway.yaml).
func DefaultPath() string {
	if p := os.Getenv("WRAP_GATEWAY_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "wrap", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to it is loaded first without overriding the environment.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Gateway.DefaultMode == "" {
		c.Gateway.DefaultMode = string(policy.ModeManual)
	}
	if c.Gateway.DispatchTimeout == 0 {
		c.Gateway.DispatchTimeout = 30 * time.Second
	}
	if c.Gateway.DedupeTTL == 0 {
		c.Gateway.DedupeTTL = 5 * time.Minute
	}
	if c.Gateway.DedupeMaxSize == 0 {
		c.Gateway.DedupeMaxSize = 10000
	}
	if c.Channels.SocialDM.Provider == "" {
		c.Channels.SocialDM.Provider = "graph"
	}
	if c.Render.Timeout == 0 {
		c.Render.Timeout = 2 * time.Minute
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "wrap.receipts"
	}
	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Mode returns the parsed default operating mode.
func (c *Config) Mode() policy.Mode {
	m, err := policy.ParseMode(c.Gateway.DefaultMode)
	if err != nil {
		return policy.ModeManual
	}
	return m
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (want sqlite, sqlite3 or postgres)", c.Database.Driver)
	}

	if _, err := policy.ParseMode(c.Gateway.DefaultMode); err != nil {
		return fmt.Errorf("gateway.default_mode: %w", err)
	}

	if c.Channels.SocialDM.Enabled {
		switch c.Channels.SocialDM.Provider {
		case "graph":
		case "matrix":
			if c.Channels.SocialDM.Homeserver == "" {
				return fmt.Errorf("channels.social_dm.homeserver is required for the matrix provider")
			}
		default:
			return fmt.Errorf("channels.social_dm.provider %q is not supported (want graph or matrix)", c.Channels.SocialDM.Provider)
		}
	}

	if c.Render.Completion.BaseURL != "" && c.Render.Completion.Model == "" {
		return fmt.Errorf("render.completion.model is required when render.completion.base_url is set")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (want text or json)", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.dispatch_timeout", cfg.Gateway.DispatchTimeoutRaw, &cfg.Gateway.DispatchTimeout},
		{"gateway.dedupe_ttl", cfg.Gateway.DedupeTTLRaw, &cfg.Gateway.DedupeTTL},
		{"render.timeout", cfg.Render.TimeoutRaw, &cfg.Render.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
