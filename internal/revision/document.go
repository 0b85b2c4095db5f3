package revision

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/revisions/internal/records"
)

// Document is the snapshot stored with a revision: the record's filtered
// fields and a capture per configured relation.
type Document struct {
	Fields    records.Fields             `json:"fields"`
	Relations map[string]RelationCapture `json:"relations,omitempty"`
}

// RelationCapture is the state of one relation at capture time. Records are
// field maps of the related rows (their own relations are not followed).
// For many-to-many relations Pivots[i] is the join row of Records[i].
type RelationCapture struct {
	Kind    records.Kind     `json:"kind"`
	Records []records.Fields `json:"records"`
	Pivots  []records.Fields `json:"pivots,omitempty"`
}

// Validate checks the pairing of many-to-many records and pivots.
func (d *Document) Validate() error {
	for name, c := range d.Relations {
		if c.Kind == records.ManyToMany && len(c.Records) != len(c.Pivots) {
			return fmt.Errorf("relation %q: %d records but %d pivots", name, len(c.Records), len(c.Pivots))
		}
	}
	return nil
}

// Encode serializes d as JSON text for the revisions table.
func Encode(d *Document) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("encode snapshot: no document")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses a stored snapshot. Integral numbers come back as int64 and
// other numbers as float64, so identifiers compare equal to driver values.
func Decode(b []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	normalizeFields(d.Fields)
	for name, c := range d.Relations {
		for _, r := range c.Records {
			normalizeFields(r)
		}
		for _, p := range c.Pivots {
			normalizeFields(p)
		}
		d.Relations[name] = c
	}
	if d.Fields == nil {
		d.Fields = records.Fields{}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func normalizeFields(f records.Fields) {
	for k, v := range f {
		f[k] = normalize(v)
	}
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}
