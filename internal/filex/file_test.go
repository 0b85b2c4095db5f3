package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: "app.db", want: "app.db"},
		{dsn: "file:/var/lib/app.db?_pragma=busy_timeout(5000)", want: "/var/lib/app.db"},
		{dsn: "data/app.db?_txlock=immediate", want: "data/app.db"},
		{dsn: ":memory:", want: ""},
		{dsn: "file:test?mode=memory&cache=shared", want: ""},
		{dsn: "", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SQLitePath(tt.dsn), tt.dsn)
	}
}

func TestEnsureParentDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureParentDir(filepath.Join("data", "app.db"))
	require.NoError(t, err)

	want := filepath.Join(tmp, "data")
	// the temp dir may sit behind a symlink (macOS /var)
	wantReal, _ := filepath.EvalSymlinks(want)
	gotReal, _ := filepath.EvalSymlinks(got)
	require.Equal(t, wantReal, gotReal)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureParentDir_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")

	first, err := EnsureParentDir(path)
	require.NoError(t, err)

	second, err := EnsureParentDir(path)
	require.NoError(t, err)

	require.Equal(t, first, second)
	fi, err := os.Stat(second)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureParentDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("data", []byte("x"), 0o660))

	_, err := EnsureParentDir(filepath.Join("data", "app.db"))
	require.Error(t, err, "should fail when a file exists with the same name")
}
