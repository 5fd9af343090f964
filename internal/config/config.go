// Package config loads vmsync settings from a YAML file with environment
// overrides.
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vmsync/internal/protect"
)

// Environment variables that override file values.
const (
	EnvMasterKey = "VMSYNC_MASTER_KEY"
	EnvDBPath    = "VMSYNC_DB_PATH"
)

// DefaultFrameInterval matches state.DefaultFrameInterval.
const DefaultFrameInterval = 16 * time.Millisecond

// Config is the on-disk configuration document.
type Config struct {
	MasterKey     string        `yaml:"master_key"`
	RetiredKeys   []string      `yaml:"retired_keys"`
	MaxAge        time.Duration `yaml:"max_age"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	DBPath        string        `yaml:"db_path"`
	LogLevel      string        `yaml:"log_level"`
	Types         string        `yaml:"types"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{FrameInterval: DefaultFrameInterval}
}

// Load reads path, applies defaults and environment overrides. An empty
// path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes a YAML document into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvMasterKey); ok && v != "" {
		c.MasterKey = v
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok && v != "" {
		c.DBPath = v
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MasterKey != "" {
		if _, err := decodeKey("master_key", c.MasterKey); err != nil {
			errs = append(errs, err)
		}
	}
	for i, k := range c.RetiredKeys {
		if _, err := decodeKey(fmt.Sprintf("retired_keys[%d]", i), k); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.RetiredKeys) > 0 && c.MasterKey == "" {
		errs = append(errs, errors.New("retired_keys: set without master_key"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("max_age: must not be negative, got %s", c.MaxAge))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval: must be positive, got %s", c.FrameInterval))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// MasterKeyBytes decodes master_key.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, fmt.Errorf("master_key: not set (use the config file or %s)", EnvMasterKey)
	}
	return decodeKey("master_key", c.MasterKey)
}

// RetiredKeyBytes decodes retired_keys in order.
func (c *Config) RetiredKeyBytes() ([][]byte, error) {
	keys := make([][]byte, 0, len(c.RetiredKeys))
	for i, k := range c.RetiredKeys {
		b, err := decodeKey(fmt.Sprintf("retired_keys[%d]", i), k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, b)
	}
	return keys, nil
}

// KeyRing builds the protection key ring from master_key and retired_keys.
func (c *Config) KeyRing() (*protect.KeyRing, error) {
	master, err := c.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	retired, err := c.RetiredKeyBytes()
	if err != nil {
		return nil, err
	}
	return protect.NewKeyRing(master, retired...)
}

// SlogLevel maps log_level to a slog level. Empty means Info.
func (c *Config) SlogLevel() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

func decodeKey(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: not valid base64: %w", field, err)
	}
	if len(b) < protect.MinMasterKeySize {
		return nil, fmt.Errorf("%s: %d bytes, need at least %d", field, len(b), protect.MinMasterKeySize)
	}
	return b, nil
}
