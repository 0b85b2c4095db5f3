// Package revisions declares the revision store contract and its PostgreSQL
// and SQLite implementations.
package revisions

import (
	"context"

	"github.com/dmitrijs2005/revisions/internal/models"
	"github.com/dmitrijs2005/revisions/internal/records"
)

// Repository stores revision entries. Entries are inserted and deleted,
// never updated.
type Repository interface {
	// Create inserts rev (assigning ID and CreatedAt) and, when limit > 0,
	// deletes the owner's oldest entries beyond limit in the same
	// transaction. It returns the number of evicted entries.
	Create(ctx context.Context, rev *models.Revision, limit int) (int64, error)

	// Prune keeps the owner's newest keep entries and deletes the rest.
	Prune(ctx context.Context, owner records.Ref, keep int) (int64, error)

	List(ctx context.Context, owner records.Ref, order models.Order) ([]*models.Revision, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Revision, error)

	// Get returns common.ErrorNotFound when no entry has the id.
	Get(ctx context.Context, id int64) (*models.Revision, error)

	// Latest returns the owner's newest entry or common.ErrorNotFound.
	Latest(ctx context.Context, owner records.Ref) (*models.Revision, error)

	Count(ctx context.Context, owner records.Ref) (int64, error)

	// Delete returns common.ErrorNotFound when no entry has the id.
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context, owner records.Ref) (int64, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)
