package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultInstance = "work"
	cfg.TypingTTL = 10 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "work" {
		t.Errorf("DefaultInstance = %q, want %q", loaded.DefaultInstance, "work")
	}
	if loaded.TypingTTL != 10*time.Second {
		t.Errorf("TypingTTL = %v, want 10s", loaded.TypingTTL)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("listen_addr = \"127.0.0.1:9000\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.CookieName != "accessToken" || cfg.SendBuffer != 256 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestResolveAppliesEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAIRCHAT_LISTEN_ADDR", ":9999")
	t.Setenv("PAIRCHAT_TYPING_TTL", "2s")
	t.Setenv("PAIRCHAT_JWT_SECRET", "0123456789abcdef")

	cfg, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" || cfg.TypingTTL != 2*time.Second {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout = %v, want default", cfg.UpstreamTimeout)
	}
	if err := cfg.ValidateDaemon(); err != nil {
		t.Errorf("ValidateDaemon() = %v", err)
	}
}

func TestResolveReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PAIRCHAT_COOKIE_NAME=sid\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("PAIRCHAT_COOKIE_NAME") })

	cfg, err := Resolve(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CookieName != "sid" {
		t.Errorf("CookieName = %q, want sid", cfg.CookieName)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		daemon  bool
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false, false},
		{"daemon without secret", func(*Config) {}, true, true},
		{"daemon with secret", func(c *Config) { c.JWTSecret = "0123456789abcdef" }, true, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false, true},
		{"zero buffer", func(c *Config) { c.SendBuffer = 0 }, false, true},
		{"no listen addr", func(c *Config) { c.ListenAddr = "" }, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			var err error
			if tt.daemon {
				err = cfg.ValidateDaemon()
			} else {
				err = cfg.Validate()
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
