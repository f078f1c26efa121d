// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of ferry depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (e.g. SQLite+blob storage, HTTP layer,
// janitor jobs) provide concrete implementations. No SQL or network concerns
// belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/ferry/internal/domain"
)

// Clock abstracts time to enable deterministic testing of TTL / expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// KeyStore is the storage port for master keys. Keys are never updated or
// deleted through it.
type KeyStore interface {
	// InsertIfEmpty persists key only when no key exists at all. created
	// reports whether this call inserted it. Implementations must make the
	// check-and-insert atomic so concurrent callers create at most one key.
	InsertIfEmpty(ctx context.Context, key domain.MasterKey) (created bool, err error)
	// InsertKey persists a new key.
	InsertKey(ctx context.Context, key domain.MasterKey) error
	// GetKey returns the key with the given token or domain.ErrNotFound.
	GetKey(ctx context.Context, token string) (domain.MasterKey, error)
	// FirstKey returns the bootstrap key (or the oldest key when several
	// qualify) or domain.ErrNotFound.
	FirstKey(ctx context.Context) (domain.MasterKey, error)
	// HasKeys reports whether any key exists.
	HasKeys(ctx context.Context) (bool, error)
}

// ContentStore is the storage port for channels and files. Implementations
// coordinate a metadata index with blob storage; blob removal always happens
// after the corresponding metadata deletion has committed and is best-effort.
type ContentStore interface {
	// GetChannel returns the channel or domain.ErrNotFound.
	GetChannel(ctx context.Context, name string) (domain.Channel, error)
	// SaveChannel upserts content, expiry and owner. An empty PasswordHash
	// preserves the stored hash.
	SaveChannel(ctx context.Context, ch domain.Channel) error
	// SetChannelPassword replaces the stored hash; an empty hash clears it.
	SetChannelPassword(ctx context.Context, name, hash string) error
	// DeleteChannel removes the channel and all of its files as one unit and
	// returns the number of file records removed. existed reports whether a
	// channel row was removed; missing channels are not an error.
	DeleteChannel(ctx context.Context, name string) (files int, existed bool, err error)

	// PutFile stores r (exactly rec.Size bytes) under rec.StoredID and records
	// the metadata, returning the record with its assigned ID.
	PutFile(ctx context.Context, rec domain.FileRecord, r io.Reader) (domain.FileRecord, error)
	// ListFiles returns the channel's files, most recently uploaded first.
	ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error)
	// GetFile returns one file of a channel or domain.ErrNotFound.
	GetFile(ctx context.Context, channel string, id int64) (domain.FileRecord, error)
	// OpenBlob opens the stored bytes of a file.
	OpenBlob(ctx context.Context, storedID string) (io.ReadCloser, error)
	// DeleteFile removes one file. deleted is false when no record matched.
	DeleteFile(ctx context.Context, channel string, id int64) (deleted bool, err error)

	// DeleteExpired removes expired files, then expired channels (cascading),
	// as of now.
	DeleteExpired(ctx context.Context, now time.Time) (SweepResult, error)
	// Usage returns per-channel byte totals of stored files.
	Usage(ctx context.Context) ([]domain.ChannelUsage, error)
	// Reconcile deletes blobs that no metadata row references and returns how
	// many were removed.
	Reconcile(ctx context.Context) (int, error)
}

// PasswordHasher hashes and verifies channel passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(passwordHash, candidate string) bool
}

// Recorder receives operational counters and summary observations.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// SweepResult reports what one expiry sweep removed.
type SweepResult struct {
	Files      int // file records removed by their own expiry or by a channel cascade
	Channels   int // channel records removed
	BlobErrors int // blob deletions that failed (left for Reconcile)
}

// Add accumulates o into r.
func (r *SweepResult) Add(o SweepResult) {
	r.Files += o.Files
	r.Channels += o.Channels
	r.BlobErrors += o.BlobErrors
}
