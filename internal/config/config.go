// Package config loads this process's startup configuration, the way
// the teacher's cmd/main.go loaded config/config.yaml inline with viper,
// generalized into a reusable struct so cmd/lineaged stays thin.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is every setting a lineaged process needs at startup.
type Config struct {
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Log struct {
		AppLogFile string `mapstructure:"app_log_file"`
		Level      string `mapstructure:"level"`
	} `mapstructure:"log"`

	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	// LocalKey identifies this process's own writer. Left empty, the
	// process mints a fresh one at startup and logs it; the minted key is
	// not persisted, so each such start uses a new key.
	LocalKey string `mapstructure:"local_key"`

	// Bootstrap lists the writer keys that seed the SystemView the very
	// first time it is opened with no prior digest.
	Bootstrap []string `mapstructure:"bootstrap"`

	// Sparse mirrors the constructor option of the same name (spec §6).
	Sparse bool `mapstructure:"sparse"`
}

// Load reads path (a YAML file) into a Config, the same single-file
// pattern as the teacher's main.go.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8088)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
