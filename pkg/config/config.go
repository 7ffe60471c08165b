// Package config loads the dgramctl configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the dgramctl endpoint configuration. Durations are
// expressed in milliseconds, matching the protocol's configuration
// surface.
type Config struct {
	SocketPath       string `yaml:"socket_path" json:"socket_path"`
	ClientSocketPath string `yaml:"client_socket_path" json:"client_socket_path"`
	BufferSize       int    `yaml:"buffer_size" json:"buffer_size"`

	ServerCheckIntervalMS       int `yaml:"server_check_interval_ms" json:"server_check_interval_ms"`
	ClientSocketCheckIntervalMS int `yaml:"client_socket_check_interval_ms" json:"client_socket_check_interval_ms"`
	NextHeartbeatDeadlineMS     int `yaml:"next_heartbeat_deadline_ms" json:"next_heartbeat_deadline_ms"`
	ReconnectIntervalMS         int `yaml:"reconnect_interval_ms" json:"reconnect_interval_ms"`
}

// DefaultPath returns the default config file path:
// ~/.local_datagram/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local_datagram", "config.yaml")
	}
	return filepath.Join(home, ".local_datagram", "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SocketPath:                  filepath.Join(os.TempDir(), "local_datagram.sock"),
		BufferSize:                  32 * 1024,
		ServerCheckIntervalMS:       3000,
		ClientSocketCheckIntervalMS: 3000,
		ReconnectIntervalMS:         1000,
	}
}

// Load reads the configuration from the given YAML file path. If the file
// does not exist, it returns the default Config with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o002 != 0 {
		fmt.Fprintf(os.Stderr,
			"warning: config file %s is world-writable (%04o)\n", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("config: buffer_size must be positive, got %d", cfg.BufferSize)
	}
	return cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ServerCheckInterval returns the probe period as a duration.
func (c *Config) ServerCheckInterval() time.Duration {
	return time.Duration(c.ServerCheckIntervalMS) * time.Millisecond
}

// ClientSocketCheckInterval returns the bound-file check period.
func (c *Config) ClientSocketCheckInterval() time.Duration {
	return time.Duration(c.ClientSocketCheckIntervalMS) * time.Millisecond
}

// NextHeartbeatDeadline returns the advertised heartbeat deadline.
func (c *Config) NextHeartbeatDeadline() time.Duration {
	return time.Duration(c.NextHeartbeatDeadlineMS) * time.Millisecond
}

// ReconnectInterval returns the reconnect backoff; zero disables reconnect.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMS) * time.Millisecond
}
