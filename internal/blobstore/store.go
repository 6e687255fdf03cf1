package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Download when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store moves files between the local filesystem and a blob store.
// Keys are slash separated, e.g. "<backup guid>/blueprint-files.tar.gz.gpg".
type Store interface {
	// Upload copies the local file to key, replacing any existing blob.
	Upload(ctx context.Context, localPath, key string) error

	// Download copies the blob at key to the local path.
	Download(ctx context.Context, key, localPath string) error

	// Name returns the store identifier (e.g. "azure", "sftp").
	Name() string
}
