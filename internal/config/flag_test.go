package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-b", "sqlite", "-d", "revisions.db", "-l", "debug", "-m", "4", "-t", "1m", "-migrate",
			},
			expected: &Config{
				DatabaseDriver:  "sqlite",
				DatabaseDSN:     "revisions.db",
				LogLevel:        "debug",
				MaxOpenConns:    4,
				ConnMaxLifetime: time.Minute,
				MigrateOnStart:  true,
			},
		},
		{
			name: "flags around a subcommand",
			args: []string{"cmd", "-migrate", "list", "post", "7", "-d", "x.db"},
			expected: &Config{
				DatabaseDSN:    "x.db",
				MigrateOnStart: true,
			},
		},
		{
			name:        "bad duration",
			args:        []string{"cmd", "-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
