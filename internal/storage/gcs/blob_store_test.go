package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &BlobStore{prefix: "raw"}
	require.Equal(t, "raw/snapshots/run.html", s.objectName("/snapshots/run.html"))
	s.prefix = ""
	require.Equal(t, "snapshots/run.html", s.objectName("snapshots/run.html"))
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body []byte
		path string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = data, r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"name":"movies/snapshots/run-1.html","bucket":"test-bucket"}`)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: "test-bucket", Prefix: "/movies/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/run-1.html", "text/html",
		bytes.NewReader([]byte("<html>snapshot</html>")))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/movies/snapshots/run-1.html", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/b/test-bucket/o")
	require.Contains(t, string(body), "<html>snapshot</html>")
	require.Contains(t, string(body), "movies/snapshots/run-1.html")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
}
