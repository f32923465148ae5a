// Package storage defines the blob store abstraction behind the catalog
// snapshot, the contributor ledger and the report artifacts. Implementations
// live in the local, gcs and memory subpackages.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned by GetObject when nothing is stored at path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore reads and writes whole objects by path.
type BlobStore interface {
	// PutObject writes data at path and returns a URI for the object.
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	// GetObject reads the object at path. It returns ErrObjectNotFound when
	// the object does not exist.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// GetOptional reads path and returns nil data when the object is missing.
func GetOptional(ctx context.Context, store BlobStore, path string) ([]byte, error) {
	data, err := store.GetObject(ctx, path)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return data, nil
}

// AppendObject appends data to the object at path, creating it if missing.
// Callers serialize appends to the same path.
func AppendObject(ctx context.Context, store BlobStore, path, contentType string, data []byte) (string, error) {
	existing, err := GetOptional(ctx, store, path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.Grow(len(existing) + len(data))
	buf.Write(existing)
	buf.Write(data)
	uri, err := store.PutObject(ctx, path, contentType, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("append %s: %w", path, err)
	}
	return uri, nil
}
