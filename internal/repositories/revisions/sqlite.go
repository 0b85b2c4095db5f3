package revisions

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/revisions/internal/dbx"
)

// No owner lock is taken: connections opened through repomanager.SQLiteDSN
// take the database write lock when the transaction begins.
var sqliteQueries = toSQLite(postgresQueries)

// toSQLite rewrites numbered placeholders as '?'. Every query binds its
// arguments in order, each once.
func toSQLite(pg *queries) *queries {
	r := strings.NewReplacer("$1", "?", "$2", "?", "$3", "?", "$4", "?", "$5", "?")
	return &queries{
		insert:       r.Replace(pg.insert),
		count:        r.Replace(pg.count),
		evict:        r.Replace(pg.evict),
		listNewest:   r.Replace(pg.listNewest),
		listOldest:   r.Replace(pg.listOldest),
		listByUser:   r.Replace(pg.listByUser),
		get:          r.Replace(pg.get),
		latest:       r.Replace(pg.latest),
		delete:       r.Replace(pg.delete),
		deleteAll:    r.Replace(pg.deleteAll),
		deleteByUser: r.Replace(pg.deleteByUser),
	}
}

// SQLiteRepository implements Repository for SQLite. created_at is stored as
// fixed-width UTC text.
type SQLiteRepository struct {
	sqlRepository
}

// NewSQLiteRepository constructs a repository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{sqlRepository{
		db: db,
		q:  sqliteQueries,
		timeValue: func(t time.Time) any {
			return t.UTC().Format(sqliteTimeLayout)
		},
	}}
}
