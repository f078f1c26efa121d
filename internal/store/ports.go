// Package store defines internal persistence adapter ports used by the
// higher-level ContentStore implementation. These ports isolate the concrete
// SQLite index and blob storage (filesystem or S3) so they can be tested and
// evolved independently. Callers outside this package interact only with the
// app.ContentStore implementation, not these internal details.
package store

import (
	"context"
	"io"
	"time"

	"github.com/haukened/ferry/internal/domain"
)

// Index abstracts the channel and file metadata operations (typically backed
// by SQLite). Operations that remove file rows return the stored ids of the
// removed rows so the caller can delete the blobs after the commit.
type Index interface {
	GetChannel(ctx context.Context, name string) (domain.Channel, error)
	// UpsertChannel writes content, expiry and owner. An empty PasswordHash
	// keeps the stored hash; the owner is only set on first save.
	UpsertChannel(ctx context.Context, ch domain.Channel) error
	// SetPasswordHash replaces the hash, creating the channel row if needed.
	SetPasswordHash(ctx context.Context, name, hash string) error
	// DeleteChannel removes the channel row and its file rows in one
	// transaction. existed reports whether a channel row was removed.
	DeleteChannel(ctx context.Context, name string) (storedIDs []string, existed bool, err error)
	// ExpiredChannels lists channels whose expiry is at or before now.
	ExpiredChannels(ctx context.Context, now time.Time) ([]string, error)

	// InsertFile records rec, creating the channel row if needed, and
	// returns the assigned id.
	InsertFile(ctx context.Context, rec domain.FileRecord) (int64, error)
	ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error)
	GetFile(ctx context.Context, channel string, id int64) (domain.FileRecord, error)
	// DeleteFile removes one file row and returns its stored id, or
	// domain.ErrNotFound.
	DeleteFile(ctx context.Context, channel string, id int64) (storedID string, err error)
	// DeleteExpiredFiles removes file rows whose expiry is at or before now.
	DeleteExpiredFiles(ctx context.Context, now time.Time) (storedIDs []string, err error)

	Usage(ctx context.Context) ([]domain.ChannelUsage, error)
	// ListStoredIDs returns every stored id referenced by a file row.
	ListStoredIDs(ctx context.Context) ([]string, error)
}

// BlobStorage abstracts file payload persistence.
type BlobStorage interface {
	// Write stores exactly size bytes from r under id.
	Write(ctx context.Context, id string, r io.Reader, size int64) error
	// Open returns a reader over the blob; a missing blob yields an error
	// matching os.ErrNotExist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
	// List returns the ids of blobs last modified at or before cutoff.
	List(ctx context.Context, cutoff time.Time) ([]string, error)
}
