// Package migrations embeds the goose migrations of the revisions table,
// one directory per database dialect.
package migrations

import "embed"

const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
