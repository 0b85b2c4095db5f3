// Package services holds RevisionService, the entry point hosts call around
// their writes: hooks that snapshot a record, rollback to a stored revision,
// and listing and deletion of revisions.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/logging"
	"github.com/dmitrijs2005/revisions/internal/metrics"
	"github.com/dmitrijs2005/revisions/internal/models"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/repomanager"
	"github.com/dmitrijs2005/revisions/internal/revision"
	"github.com/dmitrijs2005/revisions/internal/rollback"
	"github.com/dmitrijs2005/revisions/internal/snapshot"
	"github.com/google/uuid"
)

type RevisionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	options     *revision.Registry
	logger      logging.Logger
	metrics     *metrics.Metrics
	locks       *ownerLocks
}

// NewRevisionService wires the service. A nil m records into unregistered
// collectors.
func NewRevisionService(db *sql.DB, repomanager repomanager.RepositoryManager, options *revision.Registry, logger logging.Logger, m *metrics.Metrics) *RevisionService {
	if m == nil {
		m = metrics.New(nil)
	}
	return &RevisionService{
		db:          db,
		repomanager: repomanager,
		options:     options,
		logger:      logger,
		metrics:     m,
		locks:       newOwnerLocks(),
	}
}

// OnBeforeUpdate snapshots v as it is before the host's write. It must be
// called before the host persists the update.
func (s *RevisionService) OnBeforeUpdate(ctx context.Context, v records.Versionable) (*models.Revision, error) {
	return s.SaveAsRevision(ctx, v)
}

// OnAfterCreate snapshots a freshly created record when its options enable
// snapshots on create. It returns nil, nil otherwise.
func (s *RevisionService) OnAfterCreate(ctx context.Context, v records.Versionable) (*models.Revision, error) {
	opts, err := s.options.Resolve(v)
	if err != nil {
		return nil, err
	}
	if !opts.SnapshotOnCreate() {
		return nil, nil
	}
	return s.save(ctx, v.RevisionRef(), opts, nil)
}

// SaveAsRevision stores a snapshot of the current state of v.
func (s *RevisionService) SaveAsRevision(ctx context.Context, v records.Versionable) (*models.Revision, error) {
	opts, err := s.options.Resolve(v)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, v.RevisionRef(), opts, nil)
}

// UpdateWithRevision snapshots v and then writes fields onto it, both in one
// transaction.
func (s *RevisionService) UpdateWithRevision(ctx context.Context, v records.Versionable, fields records.Fields) error {
	opts, err := s.options.Resolve(v)
	if err != nil {
		return err
	}
	owner := v.RevisionRef()
	_, err = s.save(ctx, owner, opts, func(ctx context.Context, store records.Store) error {
		return store.UpdateFields(ctx, owner, fields)
	})
	return err
}

// save captures owner and inserts the revision under the owner lock; then is
// run in the same transaction after the insert.
func (s *RevisionService) save(ctx context.Context, owner records.Ref, opts revision.Options, then func(context.Context, records.Store) error) (*models.Revision, error) {
	unlock := s.locks.lock(owner.String())
	defer unlock()

	var (
		rev     *models.Revision
		evicted int64
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		store := s.repomanager.Records(tx)

		var err error
		rev, evicted, err = s.capture(ctx, tx, store, owner, opts)
		if err != nil {
			return err
		}
		if then != nil {
			return then(ctx, store)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCreated(owner.Type, evicted)
	return rev, nil
}

// capture builds the snapshot of owner and stores it with retention applied.
// The caller holds the owner lock and passes a transactional tx.
func (s *RevisionService) capture(ctx context.Context, tx dbx.DBTX, store records.Store, owner records.Ref, opts revision.Options) (*models.Revision, int64, error) {
	doc, err := snapshot.Build(ctx, store, owner, opts)
	if err != nil {
		return nil, 0, err
	}

	rev := models.NewRevision(owner, revision.UserIDFromContext(ctx), doc)
	limit, _ := opts.RevisionLimit()

	evicted, err := s.repomanager.Revisions(tx).Create(ctx, rev, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("store revision of %s: %w", owner, err)
	}

	s.logger.Info(ctx, "revision created",
		"revision_id", rev.ID, "owner_type", owner.Type, "owner_id", owner.ID, "evicted", evicted)
	return rev, evicted, nil
}

// Rollback restores v to the revision with the given id. The revision must
// belong to v. When the options ask for it, the state being replaced is
// saved as a new revision first. Everything happens in one transaction: on
// any error neither the record nor the revisions change.
func (s *RevisionService) Rollback(ctx context.Context, v records.Versionable, revisionID int64) error {
	opts, err := s.options.Resolve(v)
	if err != nil {
		return err
	}
	owner := v.RevisionRef()

	unlock := s.locks.lock(owner.String())
	defer unlock()

	logger := s.logger.With("op_id", uuid.NewString(), "owner_type", owner.Type, "owner_id", owner.ID, "revision_id", revisionID)

	rev, err := s.repomanager.Revisions(s.db).Get(ctx, revisionID)
	if err != nil {
		return fmt.Errorf("revision %d: %w", revisionID, err)
	}
	if !rev.BelongsTo(owner) {
		return fmt.Errorf("revision %d belongs to %s, not %s: %w", revisionID, rev.Owner(), owner, common.ErrOwnershipMismatch)
	}

	started := time.Now()
	captured := false
	var evicted int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		store := s.repomanager.Records(tx)

		if opts.SnapshotOnRollback() {
			var err error
			if _, evicted, err = s.capture(ctx, tx, store, owner, opts); err != nil {
				return err
			}
			captured = true
		}
		return rollback.Apply(ctx, store, owner, rev.Snapshot)
	})
	s.metrics.RecordRollback(owner.Type, time.Since(started).Seconds(), err)
	if err != nil {
		logger.Error(ctx, "rollback failed", "error", err)
		return err
	}
	if captured {
		s.metrics.RecordCreated(owner.Type, evicted)
	}

	logger.Info(ctx, "rollback committed")
	return nil
}

// Revisions lists the revisions of v.
func (s *RevisionService) Revisions(ctx context.Context, v records.Versionable, order models.Order) ([]*models.Revision, error) {
	return s.repomanager.Revisions(s.db).List(ctx, v.RevisionRef(), order)
}

// Revision returns a revision by id, or common.ErrorNotFound.
func (s *RevisionService) Revision(ctx context.Context, id int64) (*models.Revision, error) {
	return s.repomanager.Revisions(s.db).Get(ctx, id)
}

// LatestRevision returns the newest revision of v, or common.ErrorNotFound.
func (s *RevisionService) LatestRevision(ctx context.Context, v records.Versionable) (*models.Revision, error) {
	return s.repomanager.Revisions(s.db).Latest(ctx, v.RevisionRef())
}

// RevisionsByUser lists the revisions attributed to userID, newest first.
func (s *RevisionService) RevisionsByUser(ctx context.Context, userID int64) ([]*models.Revision, error) {
	return s.repomanager.Revisions(s.db).ListByUser(ctx, userID)
}

// DeleteRevision removes one revision, or returns common.ErrorNotFound.
func (s *RevisionService) DeleteRevision(ctx context.Context, id int64) error {
	repo := s.repomanager.Revisions(s.db)

	rev, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}

	s.metrics.RecordDeleted(rev.OwnerType, 1)
	s.logger.Info(ctx, "revision deleted", "revision_id", id, "owner_type", rev.OwnerType, "owner_id", rev.OwnerID)
	return nil
}

// DeleteAllRevisions removes every revision of v and returns how many.
func (s *RevisionService) DeleteAllRevisions(ctx context.Context, v records.Versionable) (int64, error) {
	owner := v.RevisionRef()

	unlock := s.locks.lock(owner.String())
	defer unlock()

	n, err := s.repomanager.Revisions(s.db).DeleteAll(ctx, owner)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordDeleted(owner.Type, n)
	s.logger.Info(ctx, "revisions deleted", "owner_type", owner.Type, "owner_id", owner.ID, "count", n)
	return n, nil
}

// DeleteRevisionsByUser removes every revision attributed to userID.
func (s *RevisionService) DeleteRevisionsByUser(ctx context.Context, userID int64) (int64, error) {
	var (
		n      int64
		byType = make(map[string]int64)
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Revisions(tx)

		revs, err := repo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, r := range revs {
			byType[r.OwnerType]++
		}

		n, err = repo.DeleteByUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	for ownerType, count := range byType {
		s.metrics.RecordDeleted(ownerType, count)
	}
	s.logger.Info(ctx, "revisions deleted", "user_id", userID, "count", n)
	return n, nil
}

// Prune keeps the newest keep revisions of v.
func (s *RevisionService) Prune(ctx context.Context, v records.Versionable, keep int) (int64, error) {
	owner := v.RevisionRef()

	unlock := s.locks.lock(owner.String())
	defer unlock()

	n, err := s.repomanager.Revisions(s.db).Prune(ctx, owner, keep)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordDeleted(owner.Type, n)
	s.logger.Info(ctx, "revisions pruned", "owner_type", owner.Type, "owner_id", owner.ID, "keep", keep, "count", n)
	return n, nil
}
