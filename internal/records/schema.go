package records

import (
	"fmt"

	"github.com/dmitrijs2005/revisions/internal/common"
)

// Kind tags a relation with how its rows are linked to the owner.
type Kind string

const (
	OneToOne   Kind = "one_to_one"
	OneToMany  Kind = "one_to_many"
	ManyToMany Kind = "many_to_many"
	BelongsTo  Kind = "belongs_to"
)

// Supported reports whether the engine knows how to capture and restore k.
func (k Kind) Supported() bool {
	switch k {
	case OneToOne, OneToMany, ManyToMany, BelongsTo:
		return true
	default:
		return false
	}
}

// Relation declares one named relation of a record type.
type Relation struct {
	Name string
	Kind Kind

	// Table is the related records' table.
	Table string

	// ForeignKey is the column linking the relation to the owner:
	// on Table for OneToOne/OneToMany, on the owner's table for BelongsTo,
	// on PivotTable for ManyToMany.
	ForeignKey string

	// PivotTable and RelatedKey are used by ManyToMany only.
	PivotTable string
	RelatedKey string
}

// PivotExtras strips the join keys from a pivot row, leaving extra columns.
func (r Relation) PivotExtras(pivot Fields) Fields {
	return pivot.Without(IDField, r.ForeignKey, r.RelatedKey)
}

// Table is the definition of one record type.
type Table struct {
	Name      string
	Relations map[string]Relation
}

// Schema maps type discriminators to table definitions. Define everything
// at startup; a Schema is read-only afterwards and safe for concurrent reads.
type Schema struct {
	tables map[string]Table
}

func NewSchema() *Schema {
	return &Schema{tables: make(map[string]Table)}
}

// Define registers recordType as stored in table, with its relations.
// Redefining a type replaces it.
func (s *Schema) Define(recordType, table string, relations ...Relation) *Schema {
	t := Table{Name: table, Relations: make(map[string]Relation, len(relations))}
	for _, r := range relations {
		t.Relations[r.Name] = r
	}
	s.tables[recordType] = t
	return s
}

// Table resolves a type discriminator.
func (s *Schema) Table(recordType string) (Table, error) {
	t, ok := s.tables[recordType]
	if !ok {
		return Table{}, fmt.Errorf("record type %q is not defined: %w", recordType, common.ErrConfiguration)
	}
	return t, nil
}

// Relation resolves a named relation of recordType. An undefined relation is
// reported as ErrUnsupportedRelation, like a relation of unknown kind.
func (s *Schema) Relation(recordType, name string) (Relation, error) {
	t, err := s.Table(recordType)
	if err != nil {
		return Relation{}, err
	}
	r, ok := t.Relations[name]
	if !ok {
		return Relation{}, fmt.Errorf("relation %q of %q is not defined: %w", name, recordType, common.ErrUnsupportedRelation)
	}
	return r, nil
}

// Types lists the defined type discriminators.
func (s *Schema) Types() []string {
	out := make([]string, 0, len(s.tables))
	for k := range s.tables {
		out = append(out, k)
	}
	return out
}
