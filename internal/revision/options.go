// Package revision holds the per-type revision settings (Options), the
// registry that hands them out, and the snapshot document persisted with
// every revision.
package revision

import (
	"fmt"

	"github.com/dmitrijs2005/revisions/internal/common"
)

// Options controls what gets captured for a record type and how revisions
// of that type are kept. It is a value: every builder method returns a new
// Options and never modifies the receiver, so a descriptor shared by a type
// cannot be changed through a copy.
//
//	opts := revision.NewOptions().
//		LimitRevisionsTo(10).
//		FieldsToNotRevision("views").
//		RelationsToRevision("comments", "tags")
type Options struct {
	snapshotOnCreate   bool
	limit              int
	fields             []string
	notFields          []string
	relations          []string
	snapshotOnRollback bool
	timestamps         bool

	err error
}

// NewOptions returns the defaults: no revision on create, no limit, every
// field, no relations, a revision before each rollback, no timestamps.
func NewOptions() Options {
	return Options{snapshotOnRollback: true}
}

// EnableSnapshotOnCreate makes record creation produce a revision too.
func (o Options) EnableSnapshotOnCreate() Options {
	o.snapshotOnCreate = true
	return o
}

// LimitRevisionsTo keeps at most n revisions per record; the oldest are
// deleted once the limit is exceeded. n must be positive.
func (o Options) LimitRevisionsTo(n int) Options {
	if n <= 0 {
		o.setErr(fmt.Errorf("revision limit must be positive, got %d: %w", n, common.ErrConfiguration))
		return o
	}
	o.limit = n
	return o
}

// FieldsToRevision restricts snapshots to the given fields. Arguments may be
// strings or (nested) string slices; they are flattened.
func (o Options) FieldsToRevision(fields ...any) Options {
	o.fields = o.flatten("fields to revision", fields)
	return o
}

// FieldsToNotRevision drops the given fields from snapshots.
func (o Options) FieldsToNotRevision(fields ...any) Options {
	o.notFields = o.flatten("fields to not revision", fields)
	return o
}

// RelationsToRevision captures the named relations, in the given order.
func (o Options) RelationsToRevision(relations ...any) Options {
	o.relations = o.flatten("relations to revision", relations)
	return o
}

// DisableSnapshotOnRollback stops rollback from saving the current state
// as a revision first.
func (o Options) DisableSnapshotOnRollback() Options {
	o.snapshotOnRollback = false
	return o
}

// WithTimestamps includes created_at/updated_at regardless of field filters.
func (o Options) WithTimestamps() Options {
	o.timestamps = true
	return o
}

// Validate reports the first invalid value given to a builder method.
func (o Options) Validate() error {
	return o.err
}

func (o Options) SnapshotOnCreate() bool { return o.snapshotOnCreate }

// RevisionLimit returns the retention limit and whether one is set.
func (o Options) RevisionLimit() (int, bool) { return o.limit, o.limit > 0 }

func (o Options) Fields() []string         { return append([]string(nil), o.fields...) }
func (o Options) NotFields() []string      { return append([]string(nil), o.notFields...) }
func (o Options) Relations() []string      { return append([]string(nil), o.relations...) }
func (o Options) SnapshotOnRollback() bool { return o.snapshotOnRollback }
func (o Options) Timestamps() bool         { return o.timestamps }

func (o *Options) setErr(err error) {
	if o.err == nil {
		o.err = err
	}
}

// flatten always builds a fresh slice so copies never share backing arrays.
func (o *Options) flatten(what string, in []any) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			if _, dup := seen[x]; dup {
				return
			}
			seen[x] = struct{}{}
			out = append(out, x)
		case []string:
			for _, s := range x {
				walk(s)
			}
		case []any:
			for _, s := range x {
				walk(s)
			}
		default:
			o.setErr(fmt.Errorf("%s: unsupported value %v (%T): %w", what, v, v, common.ErrConfiguration))
		}
	}
	for _, v := range in {
		walk(v)
	}
	return out
}
