// Package filesystem provides a BlobStorage implementation backed by the local
// filesystem. It stores uploaded file payloads as immutable blob files named
// by their stored id.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/store"
)

// Ensure BlobStore implements store.BlobStorage
var _ store.BlobStorage = (*BlobStore)(nil)

const blobExt = ".blob"

// BlobStore implements store.BlobStorage using the local filesystem.
type BlobStore struct {
	root string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root}, nil
}

// path constructs the full path to the blob file for a given stored id.
func (b *BlobStore) path(id string) string { return filepath.Join(b.root, id+blobExt) }

// Write stores exactly size bytes from r into a file associated with id. A
// short reader is an error and leaves no file behind.
func (b *BlobStore) Write(ctx context.Context, id string, r io.Reader, size int64) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := b.path(id)
	// #nosec G304: path is constructed from a fixed root plus a validated ID with a fixed suffix; no traversal possible.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err = io.CopyN(f, r, size); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}

// Open opens a blob for reading. A missing blob yields an error matching
// os.ErrNotExist.
func (b *BlobStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(b.path(id)) // #nosec G304 path constructed internally
}

// Delete removes the blob file for a given stored id. Removing a blob that
// is already gone succeeds.
func (b *BlobStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the ids of blobs whose modification time is not after cutoff.
// Higher layers derive orphans by diffing against the ids the index references.
func (b *BlobStore) List(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != blobExt {
			continue
		}
		id := strings.TrimSuffix(name, blobExt)
		if validateID(id) != nil {
			continue
		}
		if info, err := e.Info(); err != nil || info.ModTime().After(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// validateID enforces that the blob id is a canonical stored id, which both
// prevents path traversal and guarantees uniform filenames.
func validateID(id string) error {
	if _, err := domain.ParseStoredID(id); err != nil {
		return fmt.Errorf("invalid blob id %q: %w", id, err)
	}
	return nil
}
