package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/reposync/internal/storage"
	"github.com/JakeFAU/reposync/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := gcstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObject(t *testing.T) {
	payload := []byte(`{"1":{}}`)
	var gotName string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		fmt.Fprintln(w, `{"name":"`+gotName+`","bucket":"test-bucket"}`)
	})

	store := newTestStore(t, handler, "/catalog/")
	uri, err := store.PutObject(context.Background(), "database/plugins.json", "application/json", payload)
	require.NoError(t, err)
	assert.Equal(t, "catalog/database/plugins.json", gotName)
	assert.Equal(t, "gs://test-bucket/catalog/database/plugins.json", uri)

	_, err = store.PutObject(context.Background(), " ", "", payload)
	assert.Error(t, err)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler, "")
	_, err := store.PutObject(context.Background(), "x.json", "application/json", []byte("x"))
	assert.Error(t, err)
}

func TestGetObjectMissing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	store := newTestStore(t, handler, "")
	_, err := store.GetObject(context.Background(), "report/comment.md")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	data, err := storage.GetOptional(context.Background(), store, "report/comment.md")
	require.NoError(t, err)
	assert.Nil(t, data)
}
