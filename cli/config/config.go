package config

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"
)

// DefaultProfile is the profile used when --profile is not given.
const DefaultProfile = "default"

// Config represents the ecsu config file. Every value is optional; CLI
// flags override profile settings, which override built-in defaults.
type Config struct {
	LogLevel string             `yaml:"log_level,omitempty"`
	Profiles map[string]Profile `yaml:"profiles,omitempty"`
	Ledger   LedgerConfig       `yaml:"ledger,omitempty"`
	Notify   NotifyConfig       `yaml:"notify,omitempty"`
	Download DownloadConfig     `yaml:"download,omitempty"`
}

// Profile is a named set of transfer settings keyed by setting name.
type Profile map[string]string

// LedgerConfig selects where transfer history is stored. S3 wins over Path
// when both are set.
type LedgerConfig struct {
	Path string          `yaml:"path,omitempty"`
	S3   *LedgerS3Config `yaml:"s3,omitempty"`
}

// LedgerS3Config holds the bucket coordinates of an S3 ledger.
type LedgerS3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// NotifyConfig holds the optional completion notifiers.
type NotifyConfig struct {
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
}

// RedisConfig configures the Redis pub/sub notifier.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// WebhookConfig configures the HTTP webhook notifier.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// DownloadConfig holds download defaults.
type DownloadConfig struct {
	PollInterval Duration `yaml:"poll_interval,omitempty"`
	WindowSizeMB int      `yaml:"window_size_mb,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
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

// MarshalYAML writes the duration back in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool { return d.Duration == 0 }

// Setting keys accepted in a profile.
const (
	KeyCompression      = "compression"
	KeyCompressionLevel = "compression_level"
	KeyEncryption       = "encryption"
	KeyFiletype         = "filetype"
	KeyTransfer         = "transfer"
	KeyChunkSize        = "chunk_size"
	KeyRegion           = "region"
	KeyVault            = "vault"
	KeyBucket           = "bucket"
	KeyPrefix           = "prefix"
	KeySaveLocation     = "save_location"
	KeyAWSProfile       = "aws_profile"
	KeyAccessKeyID      = "access_key_id"
	KeySecretAccessKey  = "secret_access_key"
	KeyWorkers          = "workers"
	KeyQueueDepth       = "queue_depth"
	KeyPartRetries      = "part_retries"
)

var knownKeys = []string{
	KeyCompression, KeyCompressionLevel, KeyEncryption, KeyFiletype,
	KeyTransfer, KeyChunkSize, KeyRegion, KeyVault, KeyBucket, KeyPrefix,
	KeySaveLocation, KeyAWSProfile, KeyAccessKeyID, KeySecretAccessKey,
	KeyWorkers, KeyQueueDepth, KeyPartRetries,
}

var intKeys = []string{KeyCompressionLevel, KeyChunkSize, KeyWorkers, KeyQueueDepth, KeyPartRetries}

// secretKeys are masked when profiles are listed.
var secretKeys = []string{KeySecretAccessKey}

// KnownKeys returns every accepted setting key.
func KnownKeys() []string {
	return slices.Clone(knownKeys)
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	return slices.Contains(secretKeys, key)
}

// Setting returns a profile setting. The boolean is false when the profile
// or key is missing or the value is empty.
func (c *Config) Setting(profile, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	p, ok := c.Profiles[profile]
	if !ok {
		return "", false
	}
	v, ok := p[key]
	return v, ok && v != ""
}

// IntSetting returns a numeric profile setting.
func (c *Config) IntSetting(profile, key string) (int, bool, error) {
	v, ok := c.Setting(profile, key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("profile %q: %s must be an integer, got %q", profile, key, v)
	}
	return n, true, nil
}

// Set stores a profile setting, creating the profile if needed. An empty
// value removes the key.
func (c *Config) Set(profile, key, value string) error {
	if profile == "" {
		return fmt.Errorf("profile name is required")
	}
	if !slices.Contains(knownKeys, key) {
		return fmt.Errorf("unknown setting %q (valid: %v)", key, knownKeys)
	}
	if value != "" && slices.Contains(intKeys, key) {
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, value)
		}
	}

	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	p := c.Profiles[profile]
	if p == nil {
		p = make(Profile)
		c.Profiles[profile] = p
	}
	if value == "" {
		delete(p, key)
		return nil
	}
	p[key] = value
	return nil
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
