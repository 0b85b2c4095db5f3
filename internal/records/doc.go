// Package records describes what the revision engine needs to know about a
// versioned record, without depending on the host's object model.
//
// # Overview
//
// A record is addressed by a Ref, the polymorphic (id, type) pair stored on
// every revision. Its state is a Fields map of column name to value. Named
// relations are declared once per record type in a Schema, which is the
// dispatch table from a type discriminator to its table and relation
// definitions.
//
// The Store interface is the persistence boundary: field reads and writes
// on the record itself plus relation-level operations (list, find, create,
// update, delete related rows and attach, detach, update pivot rows).
// internal/repositories/recordstore provides a database/sql implementation.
//
// Relation kinds
//
//   - OneToOne  : related table holds ForeignKey = owner id, at most one row
//   - OneToMany : related table holds ForeignKey = owner id
//   - ManyToMany: PivotTable joins ForeignKey (owner) and RelatedKey (related id)
//   - BelongsTo : owner table holds ForeignKey = related id
package records
