// Package snapshot captures the current state of a record, and of the
// relations its options name, as a revision.Document.
package snapshot

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/revision"
)

const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)

// bookkeeping fields are left out of snapshots unless asked for by name.
var bookkeeping = map[string]struct{}{
	records.IDField: {},
	CreatedAtField:  {},
	UpdatedAtField:  {},
}

// Build reads ref through store and returns its snapshot. It only reads; a
// failure on any relation fails the whole build.
func Build(ctx context.Context, store records.Store, ref records.Ref, opts revision.Options) (*revision.Document, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	current, err := store.GetFields(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", ref, err)
	}

	doc := &revision.Document{Fields: FilterFields(current, opts)}

	relations := opts.Relations()
	if len(relations) == 0 {
		return doc, nil
	}

	doc.Relations = make(map[string]revision.RelationCapture, len(relations))
	for _, name := range relations {
		capture, err := captureRelation(ctx, store, ref, name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s relation %q: %w", ref, name, err)
		}
		doc.Relations[name] = capture
	}
	return doc, nil
}

// FilterFields applies the allow-list, then the deny-list, then adds the
// timestamps back when opts asks for them.
func FilterFields(all records.Fields, opts revision.Options) records.Fields {
	out := records.Fields{}

	if allow := opts.Fields(); len(allow) > 0 {
		for _, k := range allow {
			if v, ok := all[k]; ok {
				out[k] = v
			}
		}
	} else {
		for k, v := range all {
			if _, skip := bookkeeping[k]; !skip {
				out[k] = v
			}
		}
	}

	for _, k := range opts.NotFields() {
		delete(out, k)
	}

	if opts.Timestamps() {
		for _, k := range []string{CreatedAtField, UpdatedAtField} {
			if v, ok := all[k]; ok {
				out[k] = v
			}
		}
	}
	return out
}

func captureRelation(ctx context.Context, store records.Store, ref records.Ref, name string) (revision.RelationCapture, error) {
	rel, err := store.Relation(ref.Type, name)
	if err != nil {
		return revision.RelationCapture{}, err
	}

	switch rel.Kind {
	case records.OneToOne, records.OneToMany, records.BelongsTo:
		rows, err := store.ListRelated(ctx, ref, name)
		if err != nil {
			return revision.RelationCapture{}, err
		}
		return revision.RelationCapture{Kind: rel.Kind, Records: nonNil(rows)}, nil

	case records.ManyToMany:
		pivots, err := store.ListPivots(ctx, ref, name)
		if err != nil {
			return revision.RelationCapture{}, err
		}
		related := make([]records.Fields, 0, len(pivots))
		for _, p := range pivots {
			id, err := records.ParseID(p[rel.RelatedKey])
			if err != nil {
				return revision.RelationCapture{}, fmt.Errorf("pivot %s: %w", rel.RelatedKey, err)
			}
			r, err := store.FindRelated(ctx, ref, name, id)
			if err != nil {
				return revision.RelationCapture{}, err
			}
			related = append(related, r)
		}
		return revision.RelationCapture{Kind: rel.Kind, Records: related, Pivots: nonNil(pivots)}, nil

	default:
		return revision.RelationCapture{}, fmt.Errorf("kind %q: %w", rel.Kind, common.ErrUnsupportedRelation)
	}
}

func nonNil(rows []records.Fields) []records.Fields {
	if rows == nil {
		return []records.Fields{}
	}
	return rows
}
