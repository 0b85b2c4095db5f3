package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/revisions/internal/flagx"
	"github.com/dmitrijs2005/revisions/internal/timex"
)

// JsonConfig is the shape of the JSON config file. Durations use
// timex.Duration, so both "30m" and integer nanoseconds are accepted.
// Absent keys leave the current value alone.
type JsonConfig struct {
	DatabaseDriver  string          `json:"database_driver"`
	DatabaseDSN     string          `json:"database_dsn"`
	LogLevel        string          `json:"log_level"`
	MaxOpenConns    *int            `json:"max_open_conns"`
	ConnMaxLifetime *timex.Duration `json:"conn_max_lifetime"`
	MigrateOnStart  *bool           `json:"migrate_on_start"`
}

// parseJson overlays values from the file named by -c or -config. Without
// either flag nothing is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDriver != "" {
		config.DatabaseDriver = c.DatabaseDriver
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
	if c.MaxOpenConns != nil {
		config.MaxOpenConns = *c.MaxOpenConns
	}
	if c.ConnMaxLifetime != nil {
		config.ConnMaxLifetime = c.ConnMaxLifetime.Duration
	}
	if c.MigrateOnStart != nil {
		config.MigrateOnStart = *c.MigrateOnStart
	}
}
