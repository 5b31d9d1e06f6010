package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/gophersatwork/fscache"
)

// Config holds the cache settings the CLI can take from a YAML file.
// Explicit command-line flags override file values.
type Config struct {
	// Dir is the cache directory.
	Dir string `yaml:"dir,omitempty"`

	// Algorithm selects the fingerprint algorithm
	// (md5, sha1, sha256, sha512, xxh64).
	Algorithm string `yaml:"algorithm,omitempty"`

	// FastHash switches to modification-time fingerprints.
	FastHash bool `yaml:"fastHash,omitempty"`

	// Salt is mixed into every key digest. Defaults to $FSCACHE_SALT.
	Salt string `yaml:"salt,omitempty"`

	// StaleTimeout is the age after which lock markers are reclaimed,
	// e.g. "5m" or "90s".
	StaleTimeout string `yaml:"staleTimeout,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	saltSet bool
}

func defaultConfig() Config {
	return Config{
		Dir:          fscache.DefaultDir,
		Algorithm:    string(fscache.DefaultAlgorithm),
		StaleTimeout: fscache.DefaultStaleTimeout.String(),
		LogLevel:     "warn",
	}
}

// loadFile overlays settings from a YAML file onto the config.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var file Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if file.Dir != "" {
		c.Dir = file.Dir
	}
	if file.Algorithm != "" {
		c.Algorithm = file.Algorithm
	}
	if file.FastHash {
		c.FastHash = true
	}
	if file.Salt != "" {
		c.Salt = file.Salt
		c.saltSet = true
	}
	if file.StaleTimeout != "" {
		c.StaleTimeout = file.StaleTimeout
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	return nil
}

// applyFlags overlays every flag the user set explicitly.
func (c *Config) applyFlags(flags *pflag.FlagSet) {
	if flags.Changed("dir") {
		c.Dir = dir
	}
	if flags.Changed("algorithm") {
		c.Algorithm = algorithm
	}
	if flags.Changed("fast") {
		c.FastHash = fastHash
	}
	if flags.Changed("salt") {
		c.Salt = salt
		c.saltSet = true
	}
	if flags.Changed("stale-timeout") {
		c.StaleTimeout = staleTimeout.String()
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
}

// options converts the merged config into cache construction options.
func (c *Config) options() ([]fscache.Option, error) {
	stale, err := time.ParseDuration(c.StaleTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid staleTimeout %q: %w", c.StaleTimeout, err)
	}

	opts := []fscache.Option{
		fscache.WithAlgorithm(fscache.Algorithm(c.Algorithm)),
		fscache.WithStaleTimeout(stale),
		fscache.WithLogger(newLogger(c.LogLevel)),
	}
	if c.FastHash {
		opts = append(opts, fscache.WithFastHash())
	}
	if c.saltSet {
		opts = append(opts, fscache.WithSalt(c.Salt))
	}
	return opts, nil
}
