package config

import (
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	data map[string]any
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]any)}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (b *memBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *memBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4800 {
		t.Errorf("Server.Port = %d, want 4800", cfg.Server.Port)
	}
	if cfg.Reader.ContextRadius != 30 {
		t.Errorf("Reader.ContextRadius = %d, want 30", cfg.Reader.ContextRadius)
	}
	if cfg.Reader.DebounceMs != 250 {
		t.Errorf("Reader.DebounceMs = %d, want 250", cfg.Reader.DebounceMs)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9000)
	b.SetString("storage.data_dir", "/tmp/margo-test")
	b.SetInt("reader.context_radius", 50)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/margo-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Reader.ContextRadius != 50 {
		t.Errorf("Reader.ContextRadius = %d, want 50", cfg.Reader.ContextRadius)
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9000)

	t.Setenv("MARGO_SERVER_PORT", "9100")
	t.Setenv("MARGO_LOG_LEVEL", "debug")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestAPIToken_GeneratedOnce(t *testing.T) {
	b := newMemBackend()

	cfg1, err := loadWith(b)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if cfg1.Server.APIToken == "" {
		t.Fatal("no API token generated")
	}

	cfg2, err := loadWith(b)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if cfg2.Server.APIToken != cfg1.Server.APIToken {
		t.Errorf("token changed between loads: %q -> %q", cfg1.Server.APIToken, cfg2.Server.APIToken)
	}
}

func TestAPIToken_EnvWins(t *testing.T) {
	b := newMemBackend()
	b.SetString("server.api_token", "stored-token")

	t.Setenv("MARGO_API_TOKEN", "env-token")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env override", cfg.Server.APIToken)
	}
}

func TestSetKeyAndShowAll(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)
	if len(infos) == 0 {
		t.Fatal("no config keys listed")
	}
	for _, info := range infos {
		if info.Key == "server.api_token" {
			t.Error("secret key exposed in listing")
		}
	}

	keys := ValidKeys()
	found := false
	for _, k := range keys {
		if k == "reader.debounce_ms" {
			found = true
		}
	}
	if !found {
		t.Errorf("reader.debounce_ms missing from valid keys: %v", keys)
	}
}
