// ABOUTME: Configuration loading and parsing for assistant-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DBPathEnv overrides store.endpoint for file-backed store drivers.
const DBPathEnv = "ASSISTANT_GATEWAY_DB_PATH"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMongo  = "mongo"
)

// Title providers.
const (
	TitlesAssistant = "assistant"
	TitlesOllama    = "ollama"
)

// Config represents the complete assistant-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	Titles    TitlesConfig    `yaml:"titles" toml:"titles"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Uploads   UploadsConfig   `yaml:"uploads" toml:"uploads"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Expose publicly via Funnel (implies HTTPS)
}

// AssistantConfig describes the hosted assistant service.
type AssistantConfig struct {
	Endpoint           string   `yaml:"endpoint" toml:"endpoint"`
	APIKey             string   `yaml:"api_key" toml:"api_key"`
	APIVersion         string   `yaml:"api_version" toml:"api_version"`
	Azure              bool     `yaml:"azure" toml:"azure"`
	AssistantID        string   `yaml:"assistant_id" toml:"assistant_id"`
	SummarizationModel string   `yaml:"summarization_model" toml:"summarization_model"`
	MaxToolRounds      int      `yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	AttachmentTools    []string `yaml:"attachment_tools" toml:"attachment_tools"`

	RunTimeout    time.Duration `yaml:"-" toml:"-"`
	RunTimeoutRaw string        `yaml:"run_timeout" toml:"run_timeout"`
}

// TitlesConfig selects the title summarizer.
type TitlesConfig struct {
	Provider    string `yaml:"provider" toml:"provider"`
	OllamaHost  string `yaml:"ollama_host" toml:"ollama_host"`
	OllamaModel string `yaml:"ollama_model" toml:"ollama_model"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// StoreConfig selects and locates the conversation store.
// For sqlite and bolt, Endpoint is a file path; for mongo it is a connection URI.
type StoreConfig struct {
	Driver     string `yaml:"driver" toml:"driver"`
	Endpoint   string `yaml:"endpoint" toml:"endpoint"`
	Username   string `yaml:"username" toml:"username"`
	Key        string `yaml:"key" toml:"key"`
	Database   string `yaml:"database" toml:"database"`
	Collection string `yaml:"collection" toml:"collection"`
}

// RealtimeConfig tunes websocket connections.
type RealtimeConfig struct {
	MaxMessageSize int64 `yaml:"max_message_size" toml:"max_message_size"`
	SendBuffer     int   `yaml:"send_buffer" toml:"send_buffer"`

	ReadTimeout  time.Duration `yaml:"-" toml:"-"`
	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadTimeoutRaw  string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// UploadsConfig limits the file upload side channel.
type UploadsConfig struct {
	MaxBytes int64 `yaml:"max_bytes" toml:"max_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults applied after validation.
const (
	DefaultRunTimeout      = 5 * time.Minute
	DefaultTitleTimeout    = 30 * time.Second
	DefaultMaxToolRounds   = 8
	DefaultMongoDatabase   = "openai-chatbot"
	DefaultMongoCollection = "conversations"
	DefaultMaxUploadBytes  = 32 << 20
	DefaultOllamaModel     = "llama3.2"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, formatFor(path))
}

// Parse decodes raw configuration in the given format ("yaml" or "toml"),
// then applies env overrides, durations, validation and defaults.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyEnv() {
	if p := os.Getenv(DBPathEnv); p != "" && c.Store.Driver != DriverMongo {
		c.Store.Endpoint = p
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return invalid("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return invalid("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Assistant.Endpoint == "" {
		return invalid("assistant.endpoint is required")
	}
	if u, err := url.Parse(c.Assistant.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("assistant.endpoint must be an http or https URL")
	}
	if c.Assistant.APIKey == "" {
		return invalid("assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		return invalid("assistant.assistant_id is required")
	}
	if c.Assistant.SummarizationModel == "" {
		return invalid("assistant.summarization_model is required")
	}
	if c.Assistant.MaxToolRounds < 0 {
		return invalid("assistant.max_tool_rounds must not be negative")
	}

	switch c.Titles.Provider {
	case "", TitlesAssistant, TitlesOllama:
	default:
		return invalid("titles.provider must be %q or %q", TitlesAssistant, TitlesOllama)
	}

	switch c.Store.Driver {
	case "", DriverSQLite, DriverBolt, DriverMongo:
	default:
		return invalid("store.driver must be one of %s, %s, %s", DriverSQLite, DriverBolt, DriverMongo)
	}
	if c.Store.Endpoint == "" {
		return invalid("store.endpoint is required")
	}
	if c.Store.Driver == DriverMongo && c.Store.Key == "" {
		return invalid("store.key is required for the mongo driver")
	}

	if c.Uploads.MaxBytes < 0 {
		return invalid("uploads.max_bytes must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return invalid("logging.format must be text or json")
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverMongo {
		if c.Store.Database == "" {
			c.Store.Database = DefaultMongoDatabase
		}
		if c.Store.Collection == "" {
			c.Store.Collection = DefaultMongoCollection
		}
	}
	if c.Assistant.RunTimeout == 0 {
		c.Assistant.RunTimeout = DefaultRunTimeout
	}
	if c.Assistant.MaxToolRounds == 0 {
		c.Assistant.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.Titles.Provider == "" {
		c.Titles.Provider = TitlesAssistant
	}
	if c.Titles.Provider == TitlesOllama && c.Titles.OllamaModel == "" {
		c.Titles.OllamaModel = DefaultOllamaModel
	}
	if c.Titles.Timeout == 0 {
		c.Titles.Timeout = DefaultTitleTimeout
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"assistant.run_timeout", cfg.Assistant.RunTimeoutRaw, &cfg.Assistant.RunTimeout},
		{"titles.timeout", cfg.Titles.TimeoutRaw, &cfg.Titles.Timeout},
		{"realtime.read_timeout", cfg.Realtime.ReadTimeoutRaw, &cfg.Realtime.ReadTimeout},
		{"realtime.write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
