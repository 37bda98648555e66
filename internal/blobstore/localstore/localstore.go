// Package localstore is a filesystem-rooted blobstore.Store implementation,
// used in development and by the pipeline scenario tests so they need no
// network dependency.
package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sentinelai/sentinel/internal/blobstore"
)

// Store roots every key under a single directory. Keys containing "/" map
// directly to nested directories, matching the "<job_id>/<filename>"
// convention.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: creating root %q: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// resolve maps a store key to an absolute filesystem path. The key is
// cleaned as an absolute path before it is joined to the root, so ".."
// segments cannot climb above the root; only an empty key is rejected.
func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("localstore: empty key")
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put implements blobstore.Store.
func (s *Store) Put(_ context.Context, key string, data io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("localstore: creating parent directory for %q: %w", key, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("localstore: creating %q: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}
	return nil
}

// Get implements blobstore.Store.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("localstore: opening %q: %w", key, err)
	}
	return f, nil
}

// List implements blobstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]blobstore.ObjectInfo, error) {
	var infos []blobstore.ObjectInfo

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, blobstore.ObjectInfo{
				Key:          key,
				Size:         info.Size(),
				LastModified: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("localstore: listing prefix %q: %w", prefix, err)
	}
	return infos, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localstore: deleting %q: %w", key, err)
	}
	return nil
}

// DeletePrefix implements blobstore.Store by removing the file or directory
// tree at prefix. Keys that share only a string prefix with it ("job1x/a"
// for prefix "job1") are not removed.
func (s *Store) DeletePrefix(_ context.Context, prefix string) error {
	dir, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("localstore: deleting prefix %q: %w", prefix, err)
	}
	return nil
}
