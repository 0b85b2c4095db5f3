package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/revisions/internal/flagx"
)

// ValueFlags lists every flag that takes a value, config file included, so
// callers can tell flag values from positional arguments.
var ValueFlags = []string{"-b", "-d", "-l", "-m", "-t", "-c", "-config"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-b string     database driver (postgres, sqlite)
//	-d string     database DSN
//	-l string     log level
//	-m int        max open connections
//	-t duration   connection max lifetime (e.g. "30m")
//	-migrate      run migrations before the command
//
// os.Args is filtered with flagx.FilterArgs first so that subcommand
// arguments and the config file flag are not seen here.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-d", "-l", "-m", "-t"})
	args = append(args, flagx.FilterBoolArgs(os.Args[1:], []string{"-migrate"})...)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDriver, "b", config.DatabaseDriver, "database driver (postgres, sqlite)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.MaxOpenConns, "m", config.MaxOpenConns, "max open connections")
	fs.DurationVar(&config.ConnMaxLifetime, "t", config.ConnMaxLifetime, "connection max lifetime")
	fs.BoolVar(&config.MigrateOnStart, "migrate", config.MigrateOnStart, "run migrations before the command")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
