// Package filex holds filesystem helpers for file-backed databases.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SQLitePath extracts the database file path from a SQLite DSN such as
// "file:/var/lib/app.db?_pragma=busy_timeout(5000)" or "app.db". In-memory
// databases yield an empty path.
func SQLitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

// EnsureParentDir creates the directory that will hold path, relative paths
// being resolved against the working directory. It returns that directory.
func EnsureParentDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}
