package records

import "context"

// Store is the persistence boundary the snapshot builder and the rollback
// engine work against. Implementations are bound to a single database
// handle; bind them to a transaction to make a group of calls atomic.
//
// Relation-level methods take the owner's Ref and the relation name; the
// implementation resolves table and key columns from its Schema.
type Store interface {
	// Relation resolves the definition of a named relation of recordType.
	Relation(recordType, name string) (Relation, error)

	// GetFields returns every column of the record, or ErrorNotFound.
	GetFields(ctx context.Context, ref Ref) (Fields, error)

	// UpdateFields writes the given columns; the identifier is never written.
	UpdateFields(ctx context.Context, ref Ref, fields Fields) error

	// ListRelated returns the related rows ordered by identifier ascending.
	ListRelated(ctx context.Context, ref Ref, relation string) ([]Fields, error)

	// FindRelated returns the row with the given identifier from the
	// relation's table, or ErrorNotFound.
	FindRelated(ctx context.Context, ref Ref, relation string, id int64) (Fields, error)

	// CreateRelated inserts a row into the relation's table. For OneToOne and
	// OneToMany the foreign key is set to the owner's id.
	CreateRelated(ctx context.Context, ref Ref, relation string, fields Fields) error

	// UpdateRelated writes columns of the related row with the given id.
	UpdateRelated(ctx context.Context, ref Ref, relation string, id int64, fields Fields) error

	// DeleteRelated removes the related row with the given id.
	DeleteRelated(ctx context.Context, ref Ref, relation string, id int64) error

	// ListPivots returns the owner's pivot rows ordered by related id ascending.
	ListPivots(ctx context.Context, ref Ref, relation string) ([]Fields, error)

	// AttachPivot inserts a pivot row joining the owner and relatedID.
	AttachPivot(ctx context.Context, ref Ref, relation string, relatedID int64, extra Fields) error

	// DetachPivot removes the pivot row joining the owner and relatedID.
	DetachPivot(ctx context.Context, ref Ref, relation string, relatedID int64) error

	// UpdatePivot rewrites the extra columns of an existing pivot row.
	UpdatePivot(ctx context.Context, ref Ref, relation string, relatedID int64, extra Fields) error
}
