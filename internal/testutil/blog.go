// Package testutil provides a small blog database used by package tests:
// posts with an author, one reply, comments and tags.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const PostType = "post"

// Timestamps are TEXT so the driver hands them back as the strings written.
const blogDDL = `
CREATE TABLE authors (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  age INTEGER
);
CREATE TABLE posts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  author_id INTEGER REFERENCES authors(id) ON DELETE SET NULL,
  name TEXT NOT NULL,
  slug TEXT,
  content TEXT,
  votes INTEGER NOT NULL DEFAULT 0,
  views INTEGER NOT NULL DEFAULT 0,
  created_at TEXT,
  updated_at TEXT
);
CREATE TABLE replies (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  post_id INTEGER NOT NULL REFERENCES posts(id),
  subject TEXT,
  content TEXT
);
CREATE TABLE comments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  post_id INTEGER NOT NULL REFERENCES posts(id),
  title TEXT,
  content TEXT,
  active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE tags (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL
);
CREATE TABLE post_tag (
  post_id INTEGER NOT NULL REFERENCES posts(id),
  tag_id INTEGER NOT NULL REFERENCES tags(id),
  weight INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (post_id, tag_id)
);
`

const blogSeed = `
INSERT INTO authors (id, name, age) VALUES (1, 'Ann', 30);
INSERT INTO posts (id, author_id, name, slug, content, votes, views, created_at, updated_at)
  VALUES (1, 1, 'Post name', 'post-name', 'Post content', 10, 100, '2024-01-01 10:00:00', '2024-01-01 10:00:00');
INSERT INTO replies (id, post_id, subject, content) VALUES (1, 1, 'Reply subject', 'Reply content');
INSERT INTO comments (id, post_id, title, content) VALUES
  (1, 1, 'Comment 1', 'First'),
  (2, 1, 'Comment 2', 'Second'),
  (3, 1, 'Comment 3', 'Third');
INSERT INTO tags (id, name) VALUES (1, 'go'), (2, 'sql'), (3, 'json'), (4, 'unused');
INSERT INTO post_tag (post_id, tag_id, weight) VALUES (1, 1, 1), (1, 2, 2), (1, 3, 3);
`

// Post is the seeded post.
var Post = records.Ref{ID: 1, Type: PostType}

// BlogSchema describes the blog tables.
func BlogSchema() *records.Schema {
	return records.NewSchema().
		Define(PostType, "posts",
			records.Relation{Name: "author", Kind: records.BelongsTo, Table: "authors", ForeignKey: "author_id"},
			records.Relation{Name: "reply", Kind: records.OneToOne, Table: "replies", ForeignKey: "post_id"},
			records.Relation{Name: "comments", Kind: records.OneToMany, Table: "comments", ForeignKey: "post_id"},
			records.Relation{Name: "tags", Kind: records.ManyToMany, Table: "tags", ForeignKey: "post_id",
				PivotTable: "post_tag", RelatedKey: "tag_id"},
		).
		Define("author", "authors")
}

// OpenSQLite opens a fresh database file in a test temp dir. Foreign keys
// are enforced, writers wait for the file lock instead of failing, and
// transactions take the write lock up front.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenBlog opens a database with the blog tables and seed data.
func OpenBlog(t testing.TB) *sql.DB {
	t.Helper()

	db := OpenSQLite(t)
	SeedBlog(t, db)
	return db
}

// SeedBlog creates the blog tables in db and inserts the seed data.
func SeedBlog(t testing.TB, db *sql.DB) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), blogDDL)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), blogSeed)
	require.NoError(t, err)
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), q, args...).Scan(&n))
	return n
}
