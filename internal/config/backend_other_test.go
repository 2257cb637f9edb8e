//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := newPlatformBackend().Set("llm.model", "openai/gpt-4o"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	b := newPlatformBackend()
	got, ok, err := b.Get("llm.model")
	if err != nil || !ok || got != "openai/gpt-4o" {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}
	if err := b.Delete("llm.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().Get("llm.model"); ok {
		t.Error("key survived Delete")
	}
}

func TestFileBackend_JSONLiterals(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, AppName, "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	raw := `{"server.port": 8080, "explainer.sync": true, "llm.input_price": 0.5}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	clearEnv(t)
	cfg, err := loadWith(newPlatformBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 8080 || !cfg.Explainer.Sync || cfg.LLM.InputPrice != 0.5 {
		t.Errorf("cfg = %+v %+v %+v", cfg.Server, cfg.Explainer, cfg.LLM)
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet(AppName, "server_token"); err == nil {
		t.Fatal("keychainGet on an empty store succeeded")
	}
	if err := keychainSet(AppName, "server_token", "s3cret"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainReader{}.Get(AppName, "server_token")
	if err != nil || got != "s3cret" {
		t.Errorf("Get = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}

	if err := keychainSet(AppName, "server_token", ""); err != nil {
		t.Fatalf("clearing secret: %v", err)
	}
	if _, err := keychainGet(AppName, "server_token"); err == nil {
		t.Error("secret survived clearing")
	}
}
