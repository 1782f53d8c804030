package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `log_level: debug

profiles:
  default:
    transfer: glacier
    region: eu-central-1
    vault: backups
    compression: lzma
    compression_level: "9"
    encryption: aes
    filetype: tar
    chunk_size: "128"
  local:
    transfer: save
    save_location: /mnt/backup

ledger:
  s3:
    bucket: my-bucket
    prefix: ledger
    region: us-east-1
    endpoint: https://example.com
    path_style: true

notify:
  redis:
    url: redis://localhost:6379/0
    channel: backups
    timeout: 5s
    retries: 3
  webhook:
    url: https://hooks.example.com/ecsu
    headers:
      Authorization: Bearer token123
    timeout: 10s
    retries: 0

download:
  poll_interval: 15m
  window_size_mb: 64
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "log_level", cfg.LogLevel, "debug")

	// Profiles
	v, ok := cfg.Setting("default", KeyVault)
	if !ok {
		t.Fatal("expected default.vault to be set")
	}
	assertEqual(t, "default.vault", v, "backups")
	level, ok, err := cfg.IntSetting("default", KeyCompressionLevel)
	if err != nil || !ok || level != 9 {
		t.Errorf("compression_level = %d, %v, %v; want 9", level, ok, err)
	}
	loc, _ := cfg.Setting("local", KeySaveLocation)
	assertEqual(t, "local.save_location", loc, "/mnt/backup")
	if names := cfg.ProfileNames(); !slices.Equal(names, []string{"default", "local"}) {
		t.Errorf("ProfileNames() = %v", names)
	}

	// Ledger
	if cfg.Ledger.S3 == nil {
		t.Fatal("expected ledger.s3")
	}
	assertEqual(t, "ledger.s3.bucket", cfg.Ledger.S3.Bucket, "my-bucket")
	assertEqual(t, "ledger.s3.prefix", cfg.Ledger.S3.Prefix, "ledger")
	assertEqual(t, "ledger.s3.endpoint", cfg.Ledger.S3.Endpoint, "https://example.com")
	if !cfg.Ledger.S3.PathStyle {
		t.Error("expected ledger.s3.path_style=true")
	}

	// Notify
	if cfg.Notify.Redis == nil || cfg.Notify.Webhook == nil {
		t.Fatal("expected both notifiers")
	}
	assertEqual(t, "notify.redis.channel", cfg.Notify.Redis.Channel, "backups")
	if cfg.Notify.Redis.Timeout.Duration != 5*time.Second {
		t.Errorf("redis timeout = %v", cfg.Notify.Redis.Timeout.Duration)
	}
	if cfg.Notify.Redis.Retries == nil || *cfg.Notify.Redis.Retries != 3 {
		t.Error("expected redis retries=3")
	}
	if cfg.Notify.Webhook.Headers["Authorization"] != "Bearer token123" {
		t.Error("expected Authorization header")
	}
	if cfg.Notify.Webhook.Retries == nil || *cfg.Notify.Webhook.Retries != 0 {
		t.Error("expected webhook retries=0 to be non-nil")
	}

	// Download
	if cfg.Download.PollInterval.Duration != 15*time.Minute {
		t.Errorf("poll_interval = %v", cfg.Download.PollInterval.Duration)
	}
	if cfg.Download.WindowSizeMB != 64 {
		t.Errorf("window_size_mb = %d", cfg.Download.WindowSizeMB)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	for _, content := range []string{"", "   \n  \n", "# only a comment\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", content, err)
		}
		if len(cfg.Profiles) != 0 {
			t.Errorf("expected no profiles, got %v", cfg.Profiles)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrEmpty_MissingFile(t *testing.T) {
	cfg, err := LoadOrEmpty(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrEmpty failed: %v", err)
	}
	if cfg == nil || len(cfg.Profiles) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "{{invalid yaml"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `log_level: info
bogus_key: should_fail
`
	_, err := Load(writeTemp(t, yaml))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `download:
  window_size_mb: 8
  unknown_field: bad
`
	_, err := Load(writeTemp(t, yaml))
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_VAULT", "expanded-vault")

	cfg, err := Load(writeTemp(t, "profiles:\n  default:\n    vault: ${TEST_VAULT}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	v, _ := cfg.Setting("default", KeyVault)
	assertEqual(t, "vault", v, "expanded-vault")
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "download:\n  poll_interval: not-a-duration\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	cfg, err := Load(writeTemp(t, "download:\n  poll_interval: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Download.PollInterval.Duration != 0 {
		t.Errorf("expected zero duration, got %v", cfg.Download.PollInterval.Duration)
	}
}

func TestSetting_MissingValues(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{"p": {KeyVault: ""}}}

	tests := []struct {
		name, profile, key string
	}{
		{"unknown profile", "other", KeyVault},
		{"unknown key", "p", KeyRegion},
		{"empty value", "p", KeyVault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := cfg.Setting(tt.profile, tt.key); ok {
				t.Error("expected setting to be absent")
			}
		})
	}

	var nilCfg *Config
	if _, ok := nilCfg.Setting("p", KeyVault); ok {
		t.Error("nil config should have no settings")
	}
}

func TestIntSetting_NotANumber(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{"p": {KeyWorkers: "many"}}}
	if _, _, err := cfg.IntSetting("p", KeyWorkers); err == nil {
		t.Error("expected error for non-numeric setting")
	}
}

func TestSet(t *testing.T) {
	cfg := &Config{}

	if err := cfg.Set("work", KeyRegion, "eu-west-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok := cfg.Setting("work", KeyRegion)
	if !ok || v != "eu-west-1" {
		t.Errorf("Setting = %q, %v", v, ok)
	}

	if err := cfg.Set("work", KeyRegion, ""); err != nil {
		t.Fatalf("Set empty failed: %v", err)
	}
	if _, ok := cfg.Setting("work", KeyRegion); ok {
		t.Error("empty Set should remove the key")
	}

	errCases := []struct {
		name, profile, key, value string
	}{
		{"unknown key", "work", "colour", "blue"},
		{"empty profile", "", KeyRegion, "x"},
		{"non-integer", "work", KeyChunkSize, "big"},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			if err := cfg.Set(tt.profile, tt.key, tt.value); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	retries := 2
	cfg := &Config{
		LogLevel: "warn",
		Ledger:   LedgerConfig{Path: "/var/lib/ecsu"},
		Notify: NotifyConfig{
			Webhook: &WebhookConfig{URL: "https://example.com", Timeout: Duration{30 * time.Second}, Retries: &retries},
		},
		Download: DownloadConfig{PollInterval: Duration{time.Minute}},
	}
	if err := cfg.Set("default", KeySecretAccessKey, "s3cr3t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "log_level", got.LogLevel, "warn")
	assertEqual(t, "ledger.path", got.Ledger.Path, "/var/lib/ecsu")
	if got.Notify.Webhook == nil || got.Notify.Webhook.Timeout.Duration != 30*time.Second {
		t.Errorf("webhook = %+v", got.Notify.Webhook)
	}
	if got.Notify.Redis != nil {
		t.Error("redis notifier should stay unset")
	}
	if got.Download.PollInterval.Duration != time.Minute {
		t.Errorf("poll_interval = %v", got.Download.PollInterval.Duration)
	}
	secret, _ := got.Setting("default", KeySecretAccessKey)
	assertEqual(t, "secret_access_key", secret, "s3cr3t")
}

func TestLoadForEdit_KeepsEnvReferences(t *testing.T) {
	t.Setenv("TEST_BUCKET", "resolved")
	path := writeTemp(t, "profiles:\n  default:\n    bucket: ${TEST_BUCKET}\n")

	cfg, err := LoadForEdit(path)
	if err != nil {
		t.Fatalf("LoadForEdit failed: %v", err)
	}
	if err := cfg.Set("default", KeyRegion, "us-east-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "${TEST_BUCKET}") {
		t.Errorf("saved config lost the env reference:\n%s", data)
	}
}

func TestIsSecret(t *testing.T) {
	if !IsSecret(KeySecretAccessKey) {
		t.Error("secret_access_key should be secret")
	}
	if IsSecret(KeyRegion) {
		t.Error("region should not be secret")
	}
	if len(KnownKeys()) != 17 {
		t.Errorf("KnownKeys() has %d keys, want 17", len(KnownKeys()))
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
