// Package rollback writes a revision.Document back onto a live record and
// reconciles its captured relations.
//
// Apply issues many writes; callers bind the store to a transaction so that
// a failure part way leaves the record as it was.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/revision"
)

// Apply restores the document's fields on ref and brings every captured
// relation back to its captured membership. Applying the same document
// twice leaves the same state as applying it once.
//
// Parents (belongs_to) are restored before the fields, since the restored
// foreign key may point at a parent deleted after the capture. The other
// relations follow the fields.
func Apply(ctx context.Context, store records.Store, ref records.Ref, doc *revision.Document) error {
	if doc == nil {
		return fmt.Errorf("rollback %s: empty snapshot", ref)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("rollback %s: %w", ref, err)
	}

	names := make([]string, 0, len(doc.Relations))
	for name := range doc.Relations {
		names = append(names, name)
	}
	sort.Strings(names)

	parents := func(c revision.RelationCapture) bool { return c.Kind == records.BelongsTo }
	children := func(c revision.RelationCapture) bool { return c.Kind != records.BelongsTo }

	if err := applyRelations(ctx, store, ref, doc, names, parents); err != nil {
		return err
	}
	if err := store.UpdateFields(ctx, ref, doc.Fields); err != nil {
		return fmt.Errorf("rollback %s fields: %w", ref, err)
	}
	return applyRelations(ctx, store, ref, doc, names, children)
}

func applyRelations(ctx context.Context, store records.Store, ref records.Ref, doc *revision.Document, names []string, match func(revision.RelationCapture) bool) error {
	for _, name := range names {
		c := doc.Relations[name]
		if !match(c) {
			continue
		}
		if err := applyRelation(ctx, store, ref, name, c); err != nil {
			return fmt.Errorf("rollback %s relation %q: %w", ref, name, err)
		}
	}
	return nil
}

func applyRelation(ctx context.Context, store records.Store, ref records.Ref, name string, c revision.RelationCapture) error {
	rel, err := store.Relation(ref.Type, name)
	if err != nil {
		return err
	}
	if !c.Kind.Supported() {
		return fmt.Errorf("captured kind %q: %w", c.Kind, common.ErrUnsupportedRelation)
	}
	if rel.Kind != c.Kind {
		return fmt.Errorf("captured as %q but defined as %q: %w", c.Kind, rel.Kind, common.ErrUnsupportedRelation)
	}

	switch c.Kind {
	case records.OneToOne:
		return restoreOneToOne(ctx, store, ref, rel, c.Records)
	case records.OneToMany:
		return restoreOneToMany(ctx, store, ref, rel, c.Records)
	case records.ManyToMany:
		return restoreManyToMany(ctx, store, ref, rel, c)
	default: // BelongsTo
		return restoreBelongsTo(ctx, store, ref, name, c.Records)
	}
}

// restoreOneToOne keeps at most the captured row and removes any other.
func restoreOneToOne(ctx context.Context, store records.Store, ref records.Ref, rel records.Relation, captured []records.Fields) error {
	live, err := liveIDs(ctx, store, ref, rel.Name)
	if err != nil {
		return err
	}

	var keep int64
	hasKeep := len(captured) > 0
	if hasKeep {
		if keep, err = records.ParseID(captured[0][records.IDField]); err != nil {
			return err
		}
	}

	for _, id := range sortedIDs(live) {
		if hasKeep && id == keep {
			continue
		}
		if err := store.DeleteRelated(ctx, ref, rel.Name, id); err != nil {
			return err
		}
	}

	if !hasKeep {
		return nil
	}
	return upsert(ctx, store, ref, rel, keep, captured[0], live)
}

// restoreOneToMany matches rows by identifier: matches are updated, missing
// ones recreated, rows added since the capture deleted.
func restoreOneToMany(ctx context.Context, store records.Store, ref records.Ref, rel records.Relation, captured []records.Fields) error {
	live, err := liveIDs(ctx, store, ref, rel.Name)
	if err != nil {
		return err
	}

	wanted := make(map[int64]struct{}, len(captured))
	ids := make([]int64, len(captured))
	for i, rec := range captured {
		id, err := records.ParseID(rec[records.IDField])
		if err != nil {
			return err
		}
		wanted[id] = struct{}{}
		ids[i] = id
	}

	for _, id := range sortedIDs(live) {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := store.DeleteRelated(ctx, ref, rel.Name, id); err != nil {
			return err
		}
	}

	for i, rec := range captured {
		if err := upsert(ctx, store, ref, rel, ids[i], rec, live); err != nil {
			return err
		}
	}
	return nil
}

// restoreManyToMany reconciles pivot membership keyed by the related id and
// rewrites the extra pivot columns. Related rows themselves are not
// recreated: attaching a missing one fails with ErrorNotFound.
func restoreManyToMany(ctx context.Context, store records.Store, ref records.Ref, rel records.Relation, c revision.RelationCapture) error {
	name := rel.Name

	livePivots, err := store.ListPivots(ctx, ref, name)
	if err != nil {
		return err
	}
	live := make(map[int64]struct{}, len(livePivots))
	for _, p := range livePivots {
		id, err := records.ParseID(p[rel.RelatedKey])
		if err != nil {
			return err
		}
		live[id] = struct{}{}
	}

	wanted := make(map[int64]struct{}, len(c.Pivots))
	ids := make([]int64, len(c.Pivots))
	for i, p := range c.Pivots {
		id, err := records.ParseID(p[rel.RelatedKey])
		if err != nil {
			return err
		}
		wanted[id] = struct{}{}
		ids[i] = id
	}

	for _, id := range sortedIDs(live) {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := store.DetachPivot(ctx, ref, name, id); err != nil {
			return err
		}
	}

	for i, p := range c.Pivots {
		id := ids[i]
		extra := rel.PivotExtras(p)
		if _, ok := live[id]; ok {
			if err := store.UpdatePivot(ctx, ref, name, id, extra); err != nil {
				return err
			}
			continue
		}
		if _, err := store.FindRelated(ctx, ref, name, id); err != nil {
			return err
		}
		if err := store.AttachPivot(ctx, ref, name, id, extra); err != nil {
			return err
		}
	}
	return nil
}

// restoreBelongsTo writes the captured parent back, recreating it if it was
// deleted. The parent is never removed.
func restoreBelongsTo(ctx context.Context, store records.Store, ref records.Ref, name string, captured []records.Fields) error {
	if len(captured) == 0 {
		return nil
	}
	rec := captured[0]
	id, err := records.ParseID(rec[records.IDField])
	if err != nil {
		return err
	}

	_, err = store.FindRelated(ctx, ref, name, id)
	switch {
	case err == nil:
		return store.UpdateRelated(ctx, ref, name, id, rec)
	case errors.Is(err, common.ErrorNotFound):
		return store.CreateRelated(ctx, ref, name, rec)
	default:
		return err
	}
}

// upsert writes a captured child back. A row that still exists but now
// belongs to another owner is moved back instead of inserted again.
func upsert(ctx context.Context, store records.Store, ref records.Ref, rel records.Relation, id int64, rec records.Fields, live map[int64]struct{}) error {
	if _, ok := live[id]; ok {
		return store.UpdateRelated(ctx, ref, rel.Name, id, rec)
	}

	_, err := store.FindRelated(ctx, ref, rel.Name, id)
	switch {
	case err == nil:
		moved := rec.Clone()
		moved[rel.ForeignKey] = ref.ID
		return store.UpdateRelated(ctx, ref, rel.Name, id, moved)
	case errors.Is(err, common.ErrorNotFound):
		return store.CreateRelated(ctx, ref, rel.Name, rec)
	default:
		return err
	}
}

func liveIDs(ctx context.Context, store records.Store, ref records.Ref, name string) (map[int64]struct{}, error) {
	rows, err := store.ListRelated(ctx, ref, name)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		id, err := records.ParseID(r[records.IDField])
		if err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
