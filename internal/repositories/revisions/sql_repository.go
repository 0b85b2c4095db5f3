package revisions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/models"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/revision"
)

// now is a seam for tests.
var now = func() time.Time { return time.Now().UTC() }

// queries is the dialect-specific SQL of a repository.
type queries struct {
	lock         string // empty: no database-level lock
	insert       string
	count        string
	evict        string
	listNewest   string
	listOldest   string
	listByUser   string
	get          string
	latest       string
	delete       string
	deleteAll    string
	deleteByUser string
}

// sqlRepository is the dialect-independent part shared by PostgresRepository
// and SQLiteRepository.
type sqlRepository struct {
	db        dbx.DBTX
	q         *queries
	timeValue func(time.Time) any
}

func (r sqlRepository) with(db dbx.DBTX) sqlRepository {
	r.db = db
	return r
}

func (r sqlRepository) Create(ctx context.Context, rev *models.Revision, limit int) (int64, error) {
	data, err := revision.Encode(rev.Snapshot)
	if err != nil {
		return 0, err
	}

	var evicted int64
	err = dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		txr := r.with(tx)
		owner := rev.Owner()

		if err := txr.lockOwner(ctx, owner); err != nil {
			return err
		}

		createdAt := rev.CreatedAt
		if createdAt.IsZero() {
			createdAt = now()
		}

		var id int64
		err := tx.QueryRowContext(ctx, r.q.insert,
			rev.OwnerID, rev.OwnerType, userIDValue(rev.UserID), string(data), r.timeValue(createdAt),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		rev.ID = id
		rev.CreatedAt = createdAt

		if limit <= 0 {
			return nil
		}
		evicted, err = txr.prune(ctx, owner, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

func (r sqlRepository) Prune(ctx context.Context, owner records.Ref, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d: %w", keep, common.ErrConfiguration)
	}
	var deleted int64
	err := dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		txr := r.with(tx)
		if err := txr.lockOwner(ctx, owner); err != nil {
			return err
		}
		var err error
		deleted, err = txr.prune(ctx, owner, keep)
		return err
	})
	return deleted, err
}

// prune deletes the oldest count-keep entries, oldest first with ties broken
// by id. The caller holds the owner lock.
func (r sqlRepository) prune(ctx context.Context, owner records.Ref, keep int) (int64, error) {
	n, err := r.Count(ctx, owner)
	if err != nil {
		return 0, err
	}
	excess := n - int64(keep)
	if excess <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, r.q.evict, owner.Type, owner.ID, excess)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r sqlRepository) lockOwner(ctx context.Context, owner records.Ref) error {
	if r.q.lock == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, r.q.lock, "revisions:"+owner.String()); err != nil {
		return fmt.Errorf("lock %s: %w", owner, err)
	}
	return nil
}

func (r sqlRepository) List(ctx context.Context, owner records.Ref, order models.Order) ([]*models.Revision, error) {
	query := r.q.listNewest
	if order == models.OrderOldest {
		query = r.q.listOldest
	}
	return r.queryRevisions(ctx, query, owner.Type, owner.ID)
}

func (r sqlRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Revision, error) {
	return r.queryRevisions(ctx, r.q.listByUser, userID)
}

func (r sqlRepository) Get(ctx context.Context, id int64) (*models.Revision, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, r.q.get, id))
}

func (r sqlRepository) Latest(ctx context.Context, owner records.Ref) (*models.Revision, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, r.q.latest, owner.Type, owner.ID))
}

func (r sqlRepository) Count(ctx context.Context, owner records.Ref) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.q.count, owner.Type, owner.ID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r sqlRepository) Delete(ctx context.Context, id int64) error {
	n, err := r.exec(ctx, r.q.delete, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r sqlRepository) DeleteAll(ctx context.Context, owner records.Ref) (int64, error) {
	return r.exec(ctx, r.q.deleteAll, owner.Type, owner.ID)
}

func (r sqlRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, r.q.deleteByUser, userID)
}

func (r sqlRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r sqlRepository) scan(row rowScanner) (*models.Revision, error) {
	var (
		rev       models.Revision
		userID    sql.NullInt64
		snapshot  string
		createdAt any
	)
	if err := row.Scan(&rev.ID, &rev.OwnerID, &rev.OwnerType, &userID, &snapshot, &createdAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		uid := userID.Int64
		rev.UserID = &uid
	}
	doc, err := revision.Decode([]byte(snapshot))
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	rev.Snapshot = doc
	if rev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	return &rev, nil
}

func (r sqlRepository) scanOne(row *sql.Row) (*models.Revision, error) {
	rev, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rev, nil
}

func (r sqlRepository) queryRevisions(ctx context.Context, query string, args ...any) ([]*models.Revision, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select revisions: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Revision, 0)
	for rows.Next() {
		rev, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func userIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// sqliteTimeLayout sorts lexically in time order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at value %v (%T)", v, v)
	}
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable created_at %q", s)
}
