package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/logging"
	"github.com/dmitrijs2005/revisions/internal/metrics"
	"github.com/dmitrijs2005/revisions/internal/models"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/repomanager"
	"github.com/dmitrijs2005/revisions/internal/revision"
	"github.com/dmitrijs2005/revisions/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	db    *sql.DB
	rm    repomanager.RepositoryManager
	reg   *revision.Registry
	svc   *RevisionService
	store records.Store
	m     *metrics.Metrics
}

func setup(t *testing.T, opts revision.Options) env {
	t.Helper()
	db := testutil.OpenBlog(t)
	rm := repomanager.NewSQLiteRepositoryManager(testutil.BlogSchema())
	require.NoError(t, rm.RunMigrations(context.Background(), db))

	reg := revision.NewRegistry()
	require.NoError(t, reg.Register(testutil.PostType, opts))

	m := metrics.New(nil)
	return env{
		db:    db,
		rm:    rm,
		reg:   reg,
		svc:   NewRevisionService(db, rm, reg, logging.NewNopLogger(), m),
		store: rm.Records(db),
		m:     m,
	}
}

func (e env) count(t *testing.T) int64 {
	t.Helper()
	n, err := e.rm.Revisions(e.db).Count(context.Background(), testutil.Post)
	require.NoError(t, err)
	return n
}

func (e env) fields(t *testing.T) records.Fields {
	t.Helper()
	f, err := e.store.GetFields(context.Background(), testutil.Post)
	require.NoError(t, err)
	return f
}

func (e env) relatedIDs(t *testing.T, relation string) []int64 {
	t.Helper()
	rows, err := e.store.ListRelated(context.Background(), testutil.Post, relation)
	require.NoError(t, err)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, _ := r.ID()
		ids = append(ids, id)
	}
	return ids
}

type draftPost struct {
	records.Ref
	opts revision.Options
}

func (d draftPost) RevisionOptions() revision.Options { return d.opts }

func TestSaveAsRevision_StoresSnapshotAndUser(t *testing.T) {
	e := setup(t, revision.NewOptions().RelationsToRevision("comments"))
	ctx := revision.WithUserID(context.Background(), 5)

	rev, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)
	require.NotZero(t, rev.ID)

	stored, err := e.svc.Revision(context.Background(), rev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, int64(5), *stored.UserID)
	assert.Equal(t, "Post name", stored.Snapshot.Fields["name"])
	assert.Len(t, stored.Snapshot.Relations["comments"].Records, 3)
}

func TestOnBeforeUpdate_CapturesPreWriteState(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := context.Background()

	rev, err := e.svc.OnBeforeUpdate(ctx, testutil.Post)
	require.NoError(t, err)
	require.NoError(t, e.store.UpdateFields(ctx, testutil.Post, records.Fields{"name": "After"}))

	stored, err := e.svc.Revision(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Post name", stored.Snapshot.Fields["name"])
	assert.Nil(t, stored.UserID)
}

func TestOnAfterCreate(t *testing.T) {
	ctx := context.Background()

	e := setup(t, revision.NewOptions())
	rev, err := e.svc.OnAfterCreate(ctx, testutil.Post)
	require.NoError(t, err)
	assert.Nil(t, rev)
	assert.Zero(t, e.count(t))

	e = setup(t, revision.NewOptions().EnableSnapshotOnCreate())
	rev, err = e.svc.OnAfterCreate(ctx, testutil.Post)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, int64(1), e.count(t))
}

func TestUpdateWithRevision(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := context.Background()

	require.NoError(t, e.svc.UpdateWithRevision(ctx, testutil.Post, records.Fields{"name": "After"}))
	assert.Equal(t, "After", e.fields(t)["name"])

	latest, err := e.svc.LatestRevision(ctx, testutil.Post)
	require.NoError(t, err)
	assert.Equal(t, "Post name", latest.Snapshot.Fields["name"])

	// a failed write drops the snapshot too
	err = e.svc.UpdateWithRevision(ctx, testutil.Post, records.Fields{"no_such_column": 1})
	assert.Error(t, err)
	assert.Equal(t, int64(1), e.count(t))
}

func TestRetention_KeepsNewestEntries(t *testing.T) {
	e := setup(t, revision.NewOptions().LimitRevisionsTo(5))
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 20; i++ {
		rev, err := e.svc.SaveAsRevision(ctx, testutil.Post)
		require.NoError(t, err)
		ids = append(ids, rev.ID)
	}

	assert.Equal(t, int64(5), e.count(t))
	oldest, err := e.svc.Revisions(ctx, testutil.Post, models.OrderOldest)
	require.NoError(t, err)
	require.Len(t, oldest, 5)
	assert.Equal(t, ids[15], oldest[0].ID)
	assert.Equal(t, ids[19], oldest[4].ID)

	assert.Equal(t, float64(20), promtest.ToFloat64(e.m.RevisionsCreated.WithLabelValues(testutil.PostType)))
	assert.Equal(t, float64(15), promtest.ToFloat64(e.m.RevisionsEvicted.WithLabelValues(testutil.PostType)))
}

func TestRetention_ConcurrentSaves(t *testing.T) {
	e := setup(t, revision.NewOptions().LimitRevisionsTo(3))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.SaveAsRevision(ctx, testutil.Post)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), e.count(t))
	assert.Zero(t, e.svc.locks.size())
}

func TestSaveAsRevision_ConcurrentOwnersOnPlainDSN(t *testing.T) {
	rm := repomanager.NewSQLiteRepositoryManager(testutil.BlogSchema())
	db, err := sql.Open(rm.SQLDriverName(), rm.DSN("file:"+filepath.Join(t.TempDir(), "plain.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	testutil.SeedBlog(t, db)
	require.NoError(t, rm.RunMigrations(ctx, db))

	const posts, perPost = 20, 5
	for id := 2; id <= posts; id++ {
		_, err := db.ExecContext(ctx, `INSERT INTO posts (id, name) VALUES (?, ?)`, id, fmt.Sprintf("Post %d", id))
		require.NoError(t, err)
	}

	reg := revision.NewRegistry()
	svc := NewRevisionService(db, rm, reg, logging.NewNopLogger(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, posts*perPost)
	for id := 1; id <= posts; id++ {
		for i := 0; i < perPost; i++ {
			wg.Add(1)
			go func(ref records.Ref) {
				defer wg.Done()
				_, err := svc.SaveAsRevision(ctx, ref)
				errs <- err
			}(records.Ref{ID: int64(id), Type: testutil.PostType})
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for id := 1; id <= posts; id++ {
		n, err := rm.Revisions(db).Count(ctx, records.Ref{ID: int64(id), Type: testutil.PostType})
		require.NoError(t, err)
		assert.Equal(t, int64(perPost), n)
	}
}

func TestRollback_RestoresStateAndSnapshotsFirst(t *testing.T) {
	e := setup(t, revision.NewOptions().RelationsToRevision("comments", "tags"))
	ctx := context.Background()

	rev, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)

	require.NoError(t, e.store.UpdateFields(ctx, testutil.Post, records.Fields{"name": "Changed"}))
	require.NoError(t, e.store.DeleteRelated(ctx, testutil.Post, "comments", 2))
	require.NoError(t, e.store.CreateRelated(ctx, testutil.Post, "comments", records.Fields{"title": "Extra"}))
	require.NoError(t, e.store.DetachPivot(ctx, testutil.Post, "tags", 1))
	require.NoError(t, e.store.AttachPivot(ctx, testutil.Post, "tags", 4, nil))

	require.NoError(t, e.svc.Rollback(ctx, testutil.Post, rev.ID))

	assert.Equal(t, "Post name", e.fields(t)["name"])
	assert.Equal(t, []int64{1, 2, 3}, e.relatedIDs(t, "comments"))
	assert.Equal(t, []int64{1, 2, 3}, e.relatedIDs(t, "tags"))

	// the replaced state was saved before the rollback
	latest, err := e.svc.LatestRevision(ctx, testutil.Post)
	require.NoError(t, err)
	assert.NotEqual(t, rev.ID, latest.ID)
	assert.Equal(t, "Changed", latest.Snapshot.Fields["name"])
	assert.Len(t, latest.Snapshot.Relations["comments"].Records, 3)
	assert.Equal(t, int64(2), e.count(t))

	assert.Equal(t, float64(2), promtest.ToFloat64(e.m.RevisionsCreated.WithLabelValues(testutil.PostType)))
	assert.Equal(t, float64(1), promtest.ToFloat64(e.m.Rollbacks.WithLabelValues(testutil.PostType, "ok")))
}

func TestRollback_Idempotent(t *testing.T) {
	e := setup(t, revision.NewOptions().RelationsToRevision("comments").DisableSnapshotOnRollback())
	ctx := context.Background()

	rev, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)
	require.NoError(t, e.store.DeleteRelated(ctx, testutil.Post, "comments", 1))

	require.NoError(t, e.svc.Rollback(ctx, testutil.Post, rev.ID))
	first := e.fields(t)
	firstIDs := e.relatedIDs(t, "comments")

	require.NoError(t, e.svc.Rollback(ctx, testutil.Post, rev.ID))
	assert.Equal(t, first, e.fields(t))
	assert.Equal(t, firstIDs, e.relatedIDs(t, "comments"))
	assert.Equal(t, int64(1), e.count(t))
}

func TestRollback_OwnershipMismatch(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := context.Background()

	other := records.Ref{ID: 2, Type: testutil.PostType}
	_, err := e.db.ExecContext(ctx, `INSERT INTO posts (id, name) VALUES (2, 'Other')`)
	require.NoError(t, err)

	rev, err := e.svc.SaveAsRevision(ctx, other)
	require.NoError(t, err)

	require.NoError(t, e.store.UpdateFields(ctx, testutil.Post, records.Fields{"name": "Changed"}))
	before := e.fields(t)

	err = e.svc.Rollback(ctx, testutil.Post, rev.ID)
	assert.ErrorIs(t, err, common.ErrOwnershipMismatch)
	assert.Equal(t, before, e.fields(t))
	assert.Zero(t, e.count(t))

	// same id, different type
	err = e.svc.Rollback(ctx, records.Ref{ID: 2, Type: "page"}, rev.ID)
	assert.ErrorIs(t, err, common.ErrOwnershipMismatch)
}

func TestRollback_UnknownRevision(t *testing.T) {
	e := setup(t, revision.NewOptions())
	err := e.svc.Rollback(context.Background(), testutil.Post, 404)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRollback_FailureLeavesEverythingUnchanged(t *testing.T) {
	e := setup(t, revision.NewOptions().RelationsToRevision("comments", "tags"))
	ctx := context.Background()

	rev, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)

	require.NoError(t, e.store.UpdateFields(ctx, testutil.Post, records.Fields{"name": "Changed"}))
	require.NoError(t, e.store.DeleteRelated(ctx, testutil.Post, "comments", 1))
	require.NoError(t, e.store.DetachPivot(ctx, testutil.Post, "tags", 3))
	_, err = e.db.ExecContext(ctx, `DELETE FROM tags WHERE id = 3`)
	require.NoError(t, err)

	err = e.svc.Rollback(ctx, testutil.Post, rev.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.Equal(t, "Changed", e.fields(t)["name"])
	assert.Equal(t, []int64{2, 3}, e.relatedIDs(t, "comments"))
	assert.Equal(t, []int64{1, 2}, e.relatedIDs(t, "tags"))
	assert.Equal(t, int64(1), e.count(t), "pre-rollback snapshot is discarded with the transaction")

	assert.Equal(t, float64(1), promtest.ToFloat64(e.m.RevisionsCreated.WithLabelValues(testutil.PostType)))
	assert.Equal(t, float64(1), promtest.ToFloat64(e.m.Rollbacks.WithLabelValues(testutil.PostType, "error")))
}

func TestProviderOptionsOverrideRegistry(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := context.Background()

	p := draftPost{Ref: testutil.Post, opts: revision.NewOptions().FieldsToRevision("name")}
	rev, err := e.svc.SaveAsRevision(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, records.Fields{"name": "Post name"}, rev.Snapshot.Fields)

	bad := draftPost{Ref: testutil.Post, opts: revision.NewOptions().LimitRevisionsTo(-1)}
	_, err = e.svc.SaveAsRevision(ctx, bad)
	assert.ErrorIs(t, err, common.ErrConfiguration)
	assert.ErrorIs(t, e.svc.Rollback(ctx, bad, rev.ID), common.ErrConfiguration)
}

func TestSaveAsRevision_UnsupportedRelationStoresNothing(t *testing.T) {
	e := setup(t, revision.NewOptions().RelationsToRevision("likes"))

	_, err := e.svc.SaveAsRevision(context.Background(), testutil.Post)
	assert.ErrorIs(t, err, common.ErrUnsupportedRelation)
	assert.Zero(t, e.count(t))
}

func TestListingAndDeletion(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := revision.WithUserID(context.Background(), 8)

	first, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)
	second, err := e.svc.SaveAsRevision(ctx, testutil.Post)
	require.NoError(t, err)
	third, err := e.svc.SaveAsRevision(context.Background(), testutil.Post)
	require.NoError(t, err)

	newest, err := e.svc.Revisions(ctx, testutil.Post, models.OrderNewest)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, third.ID, newest[0].ID)

	byUser, err := e.svc.RevisionsByUser(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	deleted := func() float64 {
		return promtest.ToFloat64(e.m.RevisionsDeleted.WithLabelValues(testutil.PostType))
	}

	require.NoError(t, e.svc.DeleteRevision(ctx, first.ID))
	assert.ErrorIs(t, e.svc.DeleteRevision(ctx, first.ID), common.ErrorNotFound)
	assert.Equal(t, float64(1), deleted())

	n, err := e.svc.DeleteRevisionsByUser(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, float64(2), deleted())

	_, err = e.svc.Revision(ctx, second.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	n, err = e.svc.DeleteAllRevisions(ctx, testutil.Post)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, float64(3), deleted())

	_, err = e.svc.LatestRevision(ctx, testutil.Post)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPrune(t *testing.T) {
	e := setup(t, revision.NewOptions())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := e.svc.SaveAsRevision(ctx, testutil.Post)
		require.NoError(t, err)
	}

	n, err := e.svc.Prune(ctx, testutil.Post, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(1), e.count(t))
	assert.Equal(t, float64(3), promtest.ToFloat64(e.m.RevisionsDeleted.WithLabelValues(testutil.PostType)))
}
