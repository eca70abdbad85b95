package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecretsStoreSetGetClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewSecretsStore(path)

	if _, ok, err := s.GetProviderAPIKey("openai"); err != nil || ok {
		t.Fatalf("get on empty store = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.SetProviderAPIKey("openai", "sk-test-123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	key, ok, err := s.GetProviderAPIKey("openai")
	if err != nil || !ok || key != "sk-test-123" {
		t.Fatalf("get = %q ok=%v err=%v", key, ok, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("secrets file mode = %o, want 0600", perm)
	}

	if err := s.ClearProviderAPIKey("openai"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.GetProviderAPIKey("openai"); ok {
		t.Fatalf("key still present after clear")
	}
	// Clearing an absent key is not an error.
	if err := s.ClearProviderAPIKey("openai"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestSecretsStoreRejectsEmptyInputs(t *testing.T) {
	t.Parallel()

	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("", "sk-x"); err == nil {
		t.Fatalf("expected error for empty provider id")
	}
	if err := s.SetProviderAPIKey("openai", "   "); err == nil {
		t.Fatalf("expected error for empty api key")
	}
	if _, _, err := s.GetProviderAPIKey(""); err == nil {
		t.Fatalf("expected error for empty provider id on get")
	}
}

func TestSecretsStoreKeySetStatus(t *testing.T) {
	t.Parallel()

	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("anthropic", "sk-ant-1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.ProviderAPIKeySet([]string{"openai", "anthropic", ""})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	if got["openai"] || !got["anthropic"] {
		t.Fatalf("key set = %v", got)
	}
	if _, present := got[""]; present {
		t.Fatalf("empty provider id included in status")
	}
}

func TestSecretsStoreNeverStoresPlaintextElsewhere(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	s := NewSecretsStore(path)
	if err := s.SetProviderAPIKey("openai", "sk-secret-value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The key lives only in secrets.json, under provider_api_keys.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "provider_api_keys") {
		t.Fatalf("secrets file missing provider_api_keys: %s", b)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "secrets.json" {
		t.Fatalf("unexpected files next to secrets.json: %v", entries)
	}
}

func TestDefaultSecretsPath(t *testing.T) {
	t.Parallel()

	got := DefaultSecretsPath(filepath.Join("home", ".replypilot", "config.json"))
	want := filepath.Join("home", ".replypilot", "secrets.json")
	if got != want {
		t.Fatalf("DefaultSecretsPath = %q, want %q", got, want)
	}
}
