package records

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// IDField is the identifier column of every record and related record.
const IDField = "id"

// Ref is the polymorphic reference to a record: its identifier and the
// stable type discriminator naming its record type (e.g. "post").
type Ref struct {
	ID   int64
	Type string
}

// RevisionRef makes a bare Ref usable wherever a Versionable is expected.
func (r Ref) RevisionRef() Ref { return r }

func (r Ref) String() string {
	return r.Type + "#" + strconv.FormatInt(r.ID, 10)
}

// Versionable is implemented by anything the revision service can version.
type Versionable interface {
	RevisionRef() Ref
}

// Fields maps column names to values.
type Fields map[string]any

// Clone returns a shallow copy; nil stays nil.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in ascending order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Without returns a copy of f minus the named keys.
func (f Fields) Without(keys ...string) Fields {
	out := f.Clone()
	if out == nil {
		out = Fields{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ID reads the identifier column as int64.
func (f Fields) ID() (int64, bool) {
	return f.Int64(IDField)
}

// Int64 reads an integer-valued column.
func (f Fields) Int64(key string) (int64, bool) {
	v, ok := f[key]
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 converts the integer representations produced by SQL drivers and
// by JSON decoding into an int64. Fractional floats are rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ParseID is ToInt64 for values that are known to be identifiers; it reports
// a descriptive error instead of a bool.
func ParseID(v any) (int64, error) {
	id, ok := ToInt64(v)
	if !ok {
		return 0, fmt.Errorf("value %v (%T) is not an integer identifier", v, v)
	}
	return id, nil
}
