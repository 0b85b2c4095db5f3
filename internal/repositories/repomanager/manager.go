// Package repomanager vends the repositories of one database dialect bound
// to a dbx.DBTX, and runs that dialect's migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/revisions"
	"github.com/pressly/goose/v3"
)

// Supported database drivers, as named in the configuration.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Revisions(db dbx.DBTX) revisions.Repository
	Records(db dbx.DBTX) records.Store

	// SQLDriverName is the database/sql driver to open connections with.
	SQLDriverName() string

	// DSN returns the configured DSN with the connection settings the
	// repositories rely on.
	DSN(dsn string) string
}

// New returns the manager for driver. schema describes the versioned record
// types served by Records.
func New(driver string, schema *records.Schema) (RepositoryManager, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgresRepositoryManager(schema), nil
	case DriverSQLite:
		return NewSQLiteRepositoryManager(schema), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q: %w", driver, common.ErrConfiguration)
	}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}
