package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/storage/local"
)

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.EqualError(t, err, "base directory is required")

	file := filepath.Join(t.TempDir(), "snapshot.html")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.EqualError(t, err, "base directory path is not a directory")

	created := filepath.Join(t.TempDir(), "archive", "snapshots")
	_, err = local.New(local.Config{BaseDir: created})
	require.NoError(t, err)
	require.DirExists(t, created)
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := local.New(local.Config{BaseDir: dir})
	require.ErrorContains(t, err, "not writable")
}

func TestPutObjectWritesSnapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	key := "snapshots/2024/03/09/run-1.html"
	uri, err := store.PutObject(ctx, key, "text/html", bytes.NewReader([]byte("<html>first</html>")))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, key), uri)

	_, err = store.PutObject(ctx, key, "text/html", bytes.NewReader([]byte("<html>2</html>")))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)
	require.Equal(t, "<html>2</html>", string(got), "rewrites truncate the old snapshot")
}

func TestPutObjectRejectsBadKeys(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, key := range []string{"", "../escape.html", "snapshots/../../escape.html"} {
		_, err := store.PutObject(context.Background(), key, "text/html", bytes.NewReader([]byte("x")))
		require.Error(t, err, "key %q", key)
	}
}
