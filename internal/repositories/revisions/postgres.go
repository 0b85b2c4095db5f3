package revisions

import (
	"time"

	"github.com/dmitrijs2005/revisions/internal/dbx"
)

const revisionColumns = `id, revisionable_id, revisionable_type, user_id, snapshot, created_at`

var postgresQueries = &queries{
	// serializes writers of one owner across processes until the
	// transaction ends
	lock: `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
	insert: `
		INSERT INTO revisions (revisionable_id, revisionable_type, user_id, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
	count: `
		SELECT COUNT(*) FROM revisions
		WHERE revisionable_type = $1 AND revisionable_id = $2`,
	evict: `
		DELETE FROM revisions
		WHERE id IN (
			SELECT id FROM revisions
			WHERE revisionable_type = $1 AND revisionable_id = $2
			ORDER BY created_at ASC, id ASC
			LIMIT $3
		)`,
	listNewest: `
		SELECT ` + revisionColumns + ` FROM revisions
		WHERE revisionable_type = $1 AND revisionable_id = $2
		ORDER BY created_at DESC, id DESC`,
	listOldest: `
		SELECT ` + revisionColumns + ` FROM revisions
		WHERE revisionable_type = $1 AND revisionable_id = $2
		ORDER BY created_at ASC, id ASC`,
	listByUser: `
		SELECT ` + revisionColumns + ` FROM revisions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`,
	get: `
		SELECT ` + revisionColumns + ` FROM revisions
		WHERE id = $1`,
	latest: `
		SELECT ` + revisionColumns + ` FROM revisions
		WHERE revisionable_type = $1 AND revisionable_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
	delete: `
		DELETE FROM revisions
		WHERE id = $1`,
	deleteAll: `
		DELETE FROM revisions
		WHERE revisionable_type = $1 AND revisionable_id = $2`,
	deleteByUser: `
		DELETE FROM revisions
		WHERE user_id = $1`,
}

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). Inserts and pruning take a transaction-scoped
// advisory lock on the owner.
type PostgresRepository struct {
	sqlRepository
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{sqlRepository{
		db:        db,
		q:         postgresQueries,
		timeValue: func(t time.Time) any { return t },
	}}
}
