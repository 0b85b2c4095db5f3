package repomanager

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/migrations"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/recordstore"
	"github.com/dmitrijs2005/revisions/internal/repositories/revisions"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repository implementations.
type SQLiteRepositoryManager struct {
	schema *records.Schema
}

func NewSQLiteRepositoryManager(schema *records.Schema) *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{schema: schema}
}

func (m *SQLiteRepositoryManager) Revisions(db dbx.DBTX) revisions.Repository {
	return revisions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Store {
	return recordstore.NewSQLiteStore(db, m.schema)
}

func (m *SQLiteRepositoryManager) SQLDriverName() string { return "sqlite" }

func (m *SQLiteRepositoryManager) DSN(dsn string) string { return SQLiteDSN(dsn) }

// sqliteBusyTimeout is how long a writer waits for the database lock, in ms.
const sqliteBusyTimeout = 10000

// SQLiteDSN makes every transaction take the write lock at BEGIN and wait
// for it. A deferred transaction that reads before it writes cannot wait
// for a lock held by another writer and fails with SQLITE_BUSY. Settings
// already present in dsn are kept.
func SQLiteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout("+strconv.Itoa(sqliteBusyTimeout)+")")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.SQLiteDir)
}
