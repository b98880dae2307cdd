package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// DefaultOptions returns Options with the stock servers and policies filled
// in. Token and DeviceID are left empty; every member must choose its own.
func DefaultOptions() *Options {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "meshlink"
	}
	return &Options{
		Name:        name,
		Servers:     []string{DefaultServer},
		StunServers: slices.Clone(DefaultStunServers),
		Ports:       []int{0},
		Punch:       string(PunchAll),
		Channel:     string(ChannelAll),
	}
}

// LoadOptions reads Options from a TOML file. If the file doesn't exist, it
// returns the default options. The result is not validated; pass it to Parse.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("config file not found, using defaults")
			return opts, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return opts, nil
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	opts, err := LoadOptions(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(*opts)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveOptions writes opts to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveOptions(opts *Options, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// The token and password are secrets.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
