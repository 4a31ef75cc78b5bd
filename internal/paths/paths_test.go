package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/pairchat/internal/config"
)

func TestForInstance(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := ForInstance("main").Dir
	want := filepath.Join(home, ".pairchat", "instances", "main")
	if got != want {
		t.Errorf("ForInstance(main) = %q, want %q", got, want)
	}
}

func TestLayoutFiles(t *testing.T) {
	l := ForInstance("test")
	tests := []struct {
		got    string
		suffix string
	}{
		{l.SocketPath(), filepath.Join("instances", "test", "admin.sock")},
		{l.LockPath(), filepath.Join("instances", "test", "LOCK")},
		{l.DBPath(), filepath.Join("instances", "test", "pairchat.db")},
		{l.LogPath(), filepath.Join("instances", "test", "logs", "pairchatd.log")},
	}
	for _, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("%q does not end with %q", tt.got, tt.suffix)
		}
	}
}

func TestEnsure(t *testing.T) {
	l := Layout{Dir: filepath.Join(t.TempDir(), "data")}
	if err := l.Ensure(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(l.LogDir())
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permissions = %o, want 0700", perm)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with hyphen", "my-instance", false},
		{"valid with underscore", "staging_2", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.instance", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	if got := ResolveName("", nil); got != DefaultInstanceName {
		t.Errorf("ResolveName = %q", got)
	}
	cfg := config.Default()
	cfg.DefaultInstance = "work"
	if got := ResolveName("", cfg); got != "work" {
		t.Errorf("ResolveName(cfg) = %q", got)
	}
	if got := ResolveName("flag", cfg); got != "flag" {
		t.Errorf("ResolveName(flag) = %q", got)
	}

	cfg.DataDir = "/srv/pairchat"
	if got := Resolve("work", cfg).Dir; got != "/srv/pairchat" {
		t.Errorf("Resolve with data_dir = %q", got)
	}
}
