package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds dlnactl configuration from dlnactl.toml.
type Config struct {
	// Server is the default device description URL or alias.
	Server    string            `toml:"server"`
	Timeout   string            `toml:"timeout"`
	Broker    string            `toml:"broker"`
	TopicBase string            `toml:"topic_base"`
	Aliases   map[string]string `toml:"aliases"`
}

// Load loads dlnactl.toml if present. Missing file returns an empty config.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads path. Missing file returns an empty config.
func LoadFile(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{Aliases: map[string]string{}}, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}
	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			return Config{}, errors.New("timeout: " + err.Error())
		}
	}
	return cfg, nil
}

// TimeoutOr returns the configured timeout, or fallback when unset.
func (c Config) TimeoutOr(fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return fallback
}

// Resolve maps a selector to a description URL. An empty selector uses the
// configured server; aliases match case-insensitively.
func (c Config) Resolve(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = strings.TrimSpace(c.Server)
	}
	if selector == "" {
		return "", errors.New("no server given (pass a location or set server in dlnactl.toml)")
	}
	for name, location := range c.Aliases {
		if strings.EqualFold(name, selector) {
			selector = location
			break
		}
	}
	if !strings.HasPrefix(selector, "http://") && !strings.HasPrefix(selector, "https://") {
		return "", errors.New("unknown server " + selector + " (expected an alias or http URL)")
	}
	return selector, nil
}

// Path returns the config location.
func Path() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "plexdlna", "dlnactl.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "plexdlna", "dlnactl.toml"), nil
}
