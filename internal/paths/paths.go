// Package paths lays out the on-disk files of a pairchat instance.
package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.pairchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pairchat")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Layout is the directory of one instance.
type Layout struct {
	Dir string
}

// InstancesDir holds one directory per named instance.
func InstancesDir() string {
	return filepath.Join(BaseDir(), "instances")
}

// ForInstance returns the default layout of a named instance.
func ForInstance(name string) Layout {
	return Layout{Dir: filepath.Join(InstancesDir(), name)}
}

// SocketPath returns the admin API Unix socket path.
func (l Layout) SocketPath() string {
	return filepath.Join(l.Dir, "admin.sock")
}

// LockPath returns the lock file path.
func (l Layout) LockPath() string {
	return filepath.Join(l.Dir, "LOCK")
}

// DBPath returns the pairchat.db path.
func (l Layout) DBPath() string {
	return filepath.Join(l.Dir, "pairchat.db")
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.Dir, "logs")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogDir(), "pairchatd.log")
}

// Ensure creates the directory tree with owner-only permissions.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
