package paths

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/pairchat/internal/config"
)

const DefaultInstanceName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to instance naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// ResolveName determines the active instance using precedence:
// 1. flagOverride (--instance flag)
// 2. config default_instance
// 3. "main"
func ResolveName(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}
	return DefaultInstanceName
}

// Resolve returns the layout for an instance; a configured data_dir wins
// over the per-instance default.
func Resolve(name string, cfg *config.Config) Layout {
	if cfg != nil && cfg.DataDir != "" {
		return Layout{Dir: cfg.DataDir}
	}
	return ForInstance(name)
}
