package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. PAIRCHAT_LISTEN_ADDR.
const EnvPrefix = "PAIRCHAT"

// Config represents the global ~/.pairchat/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance" envconfig:"DEFAULT_INSTANCE"`

	ListenAddr     string   `toml:"listen_addr" envconfig:"LISTEN_ADDR" validate:"required"`
	AllowedOrigins []string `toml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	DataDir        string   `toml:"data_dir" envconfig:"DATA_DIR"`
	LogLevel       string   `toml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`

	JWTSecret  string        `toml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL   time.Duration `toml:"token_ttl" envconfig:"TOKEN_TTL" validate:"gt=0"`
	CookieName string        `toml:"cookie_name" envconfig:"COOKIE_NAME" validate:"required"`

	UpstreamTimeout time.Duration `toml:"upstream_timeout" envconfig:"UPSTREAM_TIMEOUT" validate:"gt=0"`
	TypingTTL       time.Duration `toml:"typing_ttl" envconfig:"TYPING_TTL" validate:"gte=0"`
	SendBuffer      int           `toml:"send_buffer" envconfig:"SEND_BUFFER" validate:"gte=1"`
	RateLimitRPS    float64       `toml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst  int           `toml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" validate:"gte=1"`
	MaxMessageBytes int64         `toml:"max_message_bytes" envconfig:"MAX_MESSAGE_BYTES" validate:"gte=1024"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		TokenTTL:        24 * time.Hour,
		CookieName:      "accessToken",
		UpstreamTimeout: 3 * time.Second,
		TypingTTL:       6 * time.Second,
		SendBuffer:      256,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxMessageBytes: 64 << 10,
	}
}

// Load reads config from the given path on top of the defaults. Returns nil
// and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv loads an optional .env file from the working directory and then
// overrides cfg with PAIRCHAT_* variables.
func ApplyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then the file at
// path if it exists, then the environment.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the settings the daemon needs. The JWT secret is only
// required to serve, so clients may run without one.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateDaemon is Validate plus the daemon-only requirements.
func (c *Config) ValidateDaemon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("invalid config: jwt_secret must be at least 16 characters")
	}
	return nil
}
