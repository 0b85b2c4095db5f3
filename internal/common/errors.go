// Package common defines the sentinel errors shared by the revision store,
// the snapshot builder and the rollback engine. Callers should use errors.Is
// to match these values; implementations wrap them with context via %w.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Descriptor errors (e.g. a non-positive retention limit).
	ErrConfiguration = errors.New("configuration error")

	// A configured relation whose kind the engine cannot snapshot or restore.
	ErrUnsupportedRelation = errors.New("unsupported relation")

	// Rollback invoked with a revision that belongs to another record.
	ErrOwnershipMismatch = errors.New("revision does not belong to record")
)
