package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/types"
)

// Config is an opfsx.yaml file. Every value is optional; command-line
// flags override it.
type Config struct {
	Host     string        `yaml:"host"`
	LogLevel string        `yaml:"log_level"`
	Browser  BrowserConfig `yaml:"browser"`
	Agent    AgentConfig   `yaml:"agent"`
	Bridge   BridgeConfig  `yaml:"bridge"`
	Notify   NotifyConfig  `yaml:"notify"`
	Export   ExportConfig  `yaml:"export"`
}

// BrowserConfig selects the Chromium page for the cdp host.
type BrowserConfig struct {
	ControlURL string `yaml:"control_url"`
	// Booleans are pointers so an absent key defers to the flag default.
	Launch    *bool  `yaml:"launch,omitempty"`
	Headless  *bool  `yaml:"headless,omitempty"`
	Stealth   *bool  `yaml:"stealth,omitempty"`
	PageMatch string `yaml:"page_match"`
	URL       string `yaml:"url"`
}

// AgentConfig configures the in-page agent server.
type AgentConfig struct {
	Listen         string   `yaml:"listen"`
	OriginPatterns []string `yaml:"origin_patterns"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// BridgeConfig overrides the host's poll profile field by field.
type BridgeConfig struct {
	Profile        string   `yaml:"profile"`
	PollInterval   Duration `yaml:"poll_interval"`
	MaxAttempts    int      `yaml:"max_attempts"`
	PollRetries    *int     `yaml:"poll_retries,omitempty"`
	RetryBackoff   Duration `yaml:"retry_backoff"`
	CleanupTimeout Duration `yaml:"cleanup_timeout"`
}

// NotifyConfig holds change notification sinks. Both may be set.
type NotifyConfig struct {
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
}

// WebhookConfig configures the webhook adapter.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries int               `yaml:"retries,omitempty"`
}

// RedisConfig configures the Redis pub/sub adapter.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	PerOp   bool     `yaml:"per_op,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries int      `yaml:"retries,omitempty"`
	// Stream also appends events to this Redis stream.
	Stream       string `yaml:"stream,omitempty"`
	StreamMaxLen int64  `yaml:"stream_max_len,omitempty"`
}

// ExportConfig holds export storage defaults.
type ExportConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle *bool  `yaml:"s3_path_style,omitempty"`
}

// Duration wraps time.Duration for YAML strings like "250ms" or "5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// HostKind parses the host field.
func (c *Config) HostKind() (types.HostKind, error) {
	return types.ParseHostKind(c.Host)
}

// ApplyProfile returns base with the bridge section's overrides applied.
// A named profile replaces base before field overrides.
func (b BridgeConfig) ApplyProfile(base bridge.Profile) (bridge.Profile, error) {
	p := base
	if b.Profile != "" {
		named, ok := bridge.ProfileByName(b.Profile)
		if !ok {
			return base, fmt.Errorf("unknown bridge profile %q (must be fast or slow)", b.Profile)
		}
		p = named
	}
	if b.PollInterval.Duration > 0 {
		p.PollInterval = b.PollInterval.Duration
	}
	if b.MaxAttempts > 0 {
		p.MaxAttempts = b.MaxAttempts
	}
	if b.PollRetries != nil {
		p.PollRetries = *b.PollRetries
	}
	if b.RetryBackoff.Duration > 0 {
		p.RetryBackoff = b.RetryBackoff.Duration
	}
	return p, nil
}
