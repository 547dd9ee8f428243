package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when PRX_CONFIG is unset.
const DefaultPath = "./Prx.toml"

// EnvPath returns the config path configured by PRX_CONFIG, or
// DefaultPath if unset.
func EnvPath() string {
	if p := os.Getenv("PRX_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Parse decodes TOML bytes into a Config. It does not validate or
// normalize; callers should follow with Validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses the TOML file at path. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadAndValidate reads, parses, normalizes, and validates the config
// at path, returning the validation errors (if any) alongside the
// normalized config.
func LoadAndValidate(path string) (*Config, []error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, []error{err}
	}
	errs := Validate(cfg)
	return cfg, errs
}

// Serialize renders cfg as TOML text, e.g. for persisting the admin
// API's PUT /web/config updates.
func Serialize(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save validates cfg, then serializes and writes it to path. The
// previous file contents are left untouched if validation fails.
func Save(path string, cfg *Config) error {
	if errs := Validate(cfg); len(errs) > 0 {
		return fmt.Errorf("refusing to save invalid config: %w", joinErrors(errs))
	}
	data, err := Serialize(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return Error{msg}
}
