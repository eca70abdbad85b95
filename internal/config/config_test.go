package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Primary: ProviderConfig{ProviderID: "openai", Model: "gpt-4o-mini"},
		Fallback: &ProviderConfig{
			ProviderID: "anthropic",
			Model:      "claude-3-5-haiku-latest",
		},
	}
}

func TestConfigValidate_OK(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidate_RejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Primary.ProviderID = "bedrock"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown provider_id")
	}
}

func TestConfigValidate_CompatibleRequiresBaseURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Primary = ProviderConfig{ProviderID: "openai_compatible", Model: "llama-3.1-70b"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing base_url")
	}
	cfg.Primary.BaseURL = "https://gateway.internal/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with base_url: %v", err)
	}
}

func TestConfigValidate_RejectsBadBaseURLScheme(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Primary.BaseURL = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for base_url scheme")
	}
}

func TestConfigValidate_RejectsBadLogFields(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for log_format")
	}

	cfg = validConfig()
	cfg.LogLevel = "trace"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for log_level")
	}
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	debounce := 250
	want := validConfig()
	want.Engine = &EngineTuning{DebounceMS: &debounce}
	want.LogFormat = "json"

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config file mode = %o, want 0600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Primary != want.Primary {
		t.Fatalf("primary = %+v, want %+v", got.Primary, want.Primary)
	}
	if got.Fallback == nil || *got.Fallback != *want.Fallback {
		t.Fatalf("fallback = %+v, want %+v", got.Fallback, want.Fallback)
	}
	if got.Engine.EffectiveDebounce() != 250*time.Millisecond {
		t.Fatalf("debounce = %v, want 250ms", got.Engine.EffectiveDebounce())
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"primary":{"provider_id":"openai"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for config missing model")
	}
}

func TestEngineTuningDefaults(t *testing.T) {
	t.Parallel()

	var tun *EngineTuning
	if got := tun.EffectiveDebounce(); got != defaultDebounce {
		t.Fatalf("nil debounce = %v, want %v", got, defaultDebounce)
	}
	if got := tun.EffectiveAdapterFailureThreshold(); got != defaultAdapterFailureThreshold {
		t.Fatalf("nil threshold = %d, want %d", got, defaultAdapterFailureThreshold)
	}
	if got := tun.EffectiveCooldownWindow(); got != defaultCooldownWindow {
		t.Fatalf("nil cooldown window = %v, want %v", got, defaultCooldownWindow)
	}

	zero := 0
	tun = &EngineTuning{ProbeDelayMS: &zero}
	if err := tun.Validate(); err == nil {
		t.Fatalf("expected validation error for zero probe_delay_ms")
	}
}

func TestHTTPTuningDefaults(t *testing.T) {
	t.Parallel()

	var tun *HTTPTuning
	if got := tun.EffectiveMaxRetries(); got != 3 {
		t.Fatalf("nil max retries = %d, want 3", got)
	}
	if got := tun.EffectiveBaseDelay(); got != 500*time.Millisecond {
		t.Fatalf("nil base delay = %v, want 500ms", got)
	}

	retries := 1
	delay := 100
	tun = &HTTPTuning{MaxRetries: &retries, BaseDelayMS: &delay}
	if got := tun.EffectiveMaxRetries(); got != 1 {
		t.Fatalf("max retries = %d, want 1", got)
	}
	if got := tun.EffectiveBaseDelay(); got != 100*time.Millisecond {
		t.Fatalf("base delay = %v, want 100ms", got)
	}
}
