// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Server ServerConfig `toml:"server"`
	Sensor SensorConfig `toml:"sensor"`
	Stream StreamConfig `toml:"stream"`
	Store  StoreConfig  `toml:"store"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig maps the HTTP listener.
type ServerConfig struct {
	Listen *string `toml:"listen"`
}

// SensorConfig maps the serial ADC bridge.
type SensorConfig struct {
	Port *string `toml:"port"`
	Baud *int    `toml:"baud"`
}

// StreamConfig maps the optional NATS event stream.
type StreamConfig struct {
	NATSURL *string `toml:"nats-url"`
	Subject *string `toml:"subject"`
}

// StoreConfig maps the SQLite location.
type StoreConfig struct {
	Path *string `toml:"path"`
}

// LogConfig maps serve logging.
type LogConfig struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Template is written by `kickshield config` when no file exists yet.
const Template = `# kickshield configuration

[server]
# listen = ":8080"

[sensor]
# port = "/dev/ttyUSB0"
# baud = 115200

[stream]
# nats-url = "nats://127.0.0.1:4222"
# subject = "kickshield"

[store]
# path = "/path/to/kickshield.db"

[log]
# level = "info"
# format = "text"
`
