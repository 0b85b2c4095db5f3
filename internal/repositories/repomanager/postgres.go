package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/migrations"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/recordstore"
	"github.com/dmitrijs2005/revisions/internal/repositories/revisions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	schema *records.Schema
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(schema *records.Schema) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{schema: schema}
}

// Revisions returns a revisions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Revisions(db dbx.DBTX) revisions.Repository {
	return revisions.NewPostgresRepository(db)
}

// Records returns a records.Store bound to the provided DBTX.
func (m *PostgresRepositoryManager) Records(db dbx.DBTX) records.Store {
	return recordstore.NewPostgresStore(db, m.schema)
}

func (m *PostgresRepositoryManager) SQLDriverName() string { return "pgx" }

func (m *PostgresRepositoryManager) DSN(dsn string) string { return dsn }

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.PostgresDir)
}
