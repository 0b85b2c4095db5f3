package recordstore

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name string

	// numbered placeholders ($1, $2) instead of '?'
	numbered bool

	// resyncSerial bumps the id sequence after inserting explicit ids.
	resyncSerial bool
}

var (
	postgresDialect = dialect{name: "postgres", numbered: true, resyncSerial: true}
	sqliteDialect   = dialect{name: "sqlite"}
)

func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// quote renders an identifier; double quotes work for both dialects.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// args collects query arguments and hands out matching placeholders.
type args struct {
	d    dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}
