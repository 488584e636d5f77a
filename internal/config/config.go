// Package config holds daemon settings: defaults, optional YAML file,
// with final flag overrides applied in main.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Addr    string `yaml:"addr"`
	DBPath  string `yaml:"db_path"`
	KeyPath string `yaml:"key_path"`
	Debug   bool   `yaml:"debug"`

	TickInterval string `yaml:"tick_interval"`
	DialTimeout  string `yaml:"dial_timeout"`
	RetryLimit   int    `yaml:"retry_limit"`
	RetryDelay   string `yaml:"retry_delay"`

	tick    time.Duration
	dialTO  time.Duration
	retryIn time.Duration
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		DBPath:       "rconflow.db",
		KeyPath:      "rconflow.key",
		TickInterval: "60s",
		DialTimeout:  "10s",
		RetryLimit:   3,
		RetryDelay:   "5s",
	}
}

// Load reads the YAML file at path over the defaults. An empty path means
// defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Finish parses the duration fields and applies fallbacks. Call it again
// after overriding any raw field.
func (c *Config) Finish() error {
	var err error
	if c.tick, err = parseDuration("tick_interval", c.TickInterval, time.Minute); err != nil {
		return err
	}
	if c.dialTO, err = parseDuration("dial_timeout", c.DialTimeout, 10*time.Second); err != nil {
		return err
	}
	if c.retryIn, err = parseDuration("retry_delay", c.RetryDelay, 5*time.Second); err != nil {
		return err
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	return nil
}

func (c Config) Tick() time.Duration       { return c.tick }
func (c Config) DialTO() time.Duration     { return c.dialTO }
func (c Config) RetryPause() time.Duration { return c.retryIn }

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
