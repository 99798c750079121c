// Package config loads TouchHouse's TOML configuration file, using the
// same serialization library (BurntSushi/toml) this repo uses for
// schema.inf and part.inf.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-kit/log/level"

	"github.com/touchhouse/touchhouse"
)

// Config holds the recognized server options. Every field has a
// documented default so a missing or empty config file still produces a
// usable Config.
type Config struct {
	StorageDirectory              string `toml:"storage_directory"`
	TCPSocket                     string `toml:"tcp_socket"`
	MaxConnections                int    `toml:"max_connections"`
	LogLevel                      int    `toml:"log_level"`
	BackgroundMergeAvailableUnder int64  `toml:"background_merge_available_under"`
}

// Default returns the documented defaults for every option.
func Default() Config {
	return Config{
		StorageDirectory:              "db_files/",
		TCPSocket:                     "127.0.0.1:7070",
		MaxConnections:                100,
		LogLevel:                      1,
		BackgroundMergeAvailableUnder: 5,
	}
}

// Load reads path, overlaying any set keys onto Default(). A missing
// file is not an error; it yields the defaults, matching how an
// unconfigured single-node install should just work.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, touchhouse.WrapError(touchhouse.KindIoError, "read config file", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks each field's documented constraints.
func (c Config) Validate() error {
	if c.StorageDirectory == "" {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "storage_directory must not be empty")
	}
	if c.TCPSocket == "" {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "tcp_socket must not be empty")
	}
	if c.MaxConnections <= 0 {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "max_connections must be positive")
	}
	if c.LogLevel < 1 || c.LogLevel > 3 {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "log_level must be 1 (Info), 2 (Warn) or 3 (Error)")
	}
	if c.BackgroundMergeAvailableUnder < 0 {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "background_merge_available_under must not be negative")
	}
	return nil
}

// LevelOption maps the numeric log_level option to go-kit/log's level
// filter, the logging library this repo uses throughout (catalog,
// writer, scan, merge).
func (c Config) LevelOption() level.Option {
	switch c.LogLevel {
	case 2:
		return level.AllowWarn()
	case 3:
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func (c Config) String() string {
	return fmt.Sprintf(
		"storage_directory=%s tcp_socket=%s max_connections=%d log_level=%d background_merge_available_under=%d",
		c.StorageDirectory, c.TCPSocket, c.MaxConnections, c.LogLevel, c.BackgroundMergeAvailableUnder,
	)
}
