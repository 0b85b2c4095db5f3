// Package models holds the persisted revision entry.
package models

import (
	"time"

	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/revision"
)

// Revision is one stored snapshot of a record. Entries are immutable once
// written.
type Revision struct {
	ID        int64
	OwnerID   int64
	OwnerType string
	UserID    *int64
	Snapshot  *revision.Document
	CreatedAt time.Time
}

// NewRevision prepares an entry for owner; ID and CreatedAt are assigned on
// insert.
func NewRevision(owner records.Ref, userID *int64, snapshot *revision.Document) *Revision {
	return &Revision{
		OwnerID:   owner.ID,
		OwnerType: owner.Type,
		UserID:    userID,
		Snapshot:  snapshot,
	}
}

// Owner returns the reference of the record the revision belongs to.
func (r *Revision) Owner() records.Ref {
	return records.Ref{ID: r.OwnerID, Type: r.OwnerType}
}

// BelongsTo reports whether the revision was taken of owner.
func (r *Revision) BelongsTo(owner records.Ref) bool {
	return r.OwnerID == owner.ID && r.OwnerType == owner.Type
}

// Order selects the listing direction by creation time.
type Order int

const (
	OrderNewest Order = iota
	OrderOldest
)

func (o Order) String() string {
	if o == OrderOldest {
		return "oldest"
	}
	return "newest"
}
