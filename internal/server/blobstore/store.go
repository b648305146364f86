// Package blobstore keeps chunk bodies outside the metadata database.
package blobstore

import (
	"context"
	"fmt"
)

// Store is a flat key/value store for chunk bodies. Download returns
// common.ErrorNotFound for a missing key.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, body []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	// DeleteIfExists removes the key and reports whether it was present.
	DeleteIfExists(ctx context.Context, key string) (bool, error)
}

// ChunkKey returns the object key of a chunk body.
func ChunkKey(secretID, chunkName string) string {
	return fmt.Sprintf("secrets/%s/%s", secretID, chunkName)
}
