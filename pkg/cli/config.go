package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/streamx/pkg/connpool"
	"github.com/haivivi/streamx/pkg/jsontime"
	"github.com/haivivi/streamx/pkg/replay"
	"github.com/haivivi/streamx/pkg/streamx"
	"github.com/haivivi/streamx/pkg/streamx/sources"
)

// Replay backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendFile   = "file"
	BackendS3     = "s3"
)

// Config is the streamx configuration file.
type Config struct {
	Stream        streamx.Config   `yaml:"stream" json:"stream"`
	Reconnect     connpool.Options `yaml:"reconnect,omitempty" json:"reconnect,omitzero"`
	WarmEndpoints []string         `yaml:"warm_endpoints,omitempty" json:"warm_endpoints,omitempty"`
	Telemetry     TelemetryConfig  `yaml:"telemetry,omitempty" json:"telemetry,omitzero"`
	Replay        ReplayConfig     `yaml:"replay,omitempty" json:"replay,omitzero"`
	Sources       SourcesConfig    `yaml:"sources,omitempty" json:"sources,omitzero"`

	path string
}

// TelemetryConfig configures the snapshot reporter.
type TelemetryConfig struct {
	Interval jsontime.Duration `yaml:"interval,omitempty" json:"interval,omitzero"`
	// URL receives snapshots as JSON POSTs. Empty logs them instead.
	URL string `yaml:"url,omitempty" json:"url,omitzero"`
	// History is how many snapshots the reporter keeps.
	History int `yaml:"history,omitempty" json:"history,omitzero"`
}

// ReplayConfig selects and tunes the replay cache backend.
type ReplayConfig struct {
	TTL       jsontime.Duration `yaml:"ttl,omitempty" json:"ttl,omitzero"`
	MaxChunks int               `yaml:"max_chunks,omitempty" json:"max_chunks,omitzero"`
	MaxBytes  int64             `yaml:"max_bytes,omitempty" json:"max_bytes,omitzero"`

	// Backend is memory, badger, file or s3.
	Backend string `yaml:"backend,omitempty" json:"backend,omitzero"`
	// Dir is the badger or file directory. Defaults to ~/.streamx/data.
	Dir string `yaml:"dir,omitempty" json:"dir,omitzero"`

	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitzero"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitzero"`
	Region   string `yaml:"region,omitempty" json:"region,omitzero"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitzero"`

	SweepInterval jsontime.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitzero"`
}

// Options returns the cache limits.
func (r ReplayConfig) Options() replay.Options {
	return replay.Options{TTL: r.TTL, MaxChunks: r.MaxChunks, MaxBytes: r.MaxBytes}.WithDefaults()
}

// SourcesConfig configures the chunk producers.
type SourcesConfig struct {
	OpenAI    OpenAIConfig      `yaml:"openai,omitempty" json:"openai,omitzero"`
	Gemini    GeminiConfig      `yaml:"gemini,omitempty" json:"gemini,omitzero"`
	Synthetic sources.Synthetic `yaml:"synthetic,omitempty" json:"synthetic,omitzero"`
}

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitzero"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitzero"`
	Model     string `yaml:"model,omitempty" json:"model,omitzero"`
	System    string `yaml:"system,omitempty" json:"system,omitzero"`
	MaxTokens int64  `yaml:"max_tokens,omitempty" json:"max_tokens,omitzero"`
}

// GeminiConfig configures the Gemini API backend.
type GeminiConfig struct {
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitzero"`
	Model     string `yaml:"model,omitempty" json:"model,omitzero"`
	System    string `yaml:"system,omitempty" json:"system,omitzero"`
	MaxTokens int32  `yaml:"max_tokens,omitempty" json:"max_tokens,omitzero"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Stream:    streamx.DefaultConfig(),
		Reconnect: connpool.DefaultOptions(),
		Telemetry: TelemetryConfig{Interval: jsontime.Duration(10 * time.Second), History: 64},
		Replay:    ReplayConfig{Backend: BackendMemory},
		Sources: SourcesConfig{
			OpenAI: OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		},
	}
}

// LoadConfig reads path, or ~/.streamx/config.yaml when path is empty. A
// missing default file yields DefaultConfig; a missing explicit path is an
// error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := NewPaths()
		if err != nil {
			return nil, fmt.Errorf("cli: locate config: %w", err)
		}
		path = p.ConfigFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.path = path
			return cfg, nil
		}
		return nil, fmt.Errorf("cli: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("cli: %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// ParseConfig decodes YAML over DefaultConfig, expanding ${VAR} references
// from the environment, and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Stream = cfg.Stream.WithDefaults()
	cfg.Reconnect = cfg.Reconnect.WithDefaults()
	if cfg.Replay.Backend == "" {
		cfg.Replay.Backend = BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Stream.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Reconnect.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Telemetry.Interval < 0 {
		errs = append(errs, fmt.Errorf("telemetry.interval must not be negative"))
	}
	if err := c.Replay.Options().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Replay.Backend {
	case BackendMemory, BackendBadger, BackendFile:
	case BackendS3:
		if c.Replay.Bucket == "" {
			errs = append(errs, errors.New("replay.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown replay.backend %q", c.Replay.Backend))
	}
	return errors.Join(errs...)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// ReplayDir returns Replay.Dir or the default data directory.
func (c *Config) ReplayDir() (string, error) {
	if c.Replay.Dir != "" {
		return c.Replay.Dir, nil
	}
	p, err := NewPaths()
	if err != nil {
		return "", err
	}
	return p.DataDir(), nil
}

// Save writes the config as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// MaskAPIKey hides all but the first and last four characters of key.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
