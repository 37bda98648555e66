// Package blobstore defines the Store contract for the Artifact Store
// (spec.md §4.4): content addressed by "<job_id>/<filename>" and its
// stage-suffixed derivatives ("<job_id>/<filename>.<stage>.<ext>").
// internal/blobstore/localstore and internal/blobstore/s3store both
// implement Store.
package blobstore

import (
	"context"
	"io"
)

// ObjectInfo describes one stored object without fetching its body.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified string
}

// Store is the Artifact Store contract. Every path is relative to the
// store's own root (a local directory, or an S3 bucket) — callers always
// pass the full "<job_id>/<filename>[.<stage>.<ext>]" key.
type Store interface {
	// Put writes data under key, replacing any existing object at that key.
	Put(ctx context.Context, key string, data io.Reader) error

	// Get opens the object at key for reading. The caller must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every object whose key starts with prefix — used for the
	// blob-prefix sweep (spec.md §9) and for listing a job's derivatives.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix, used
	// by internal/sweeper to garbage-collect a failed job's blobs.
	DeletePrefix(ctx context.Context, prefix string) error
}
