// Package store provides the concrete implementation of the application
// ContentStore port by composing lower-layer persistence ports (Index and
// BlobStorage). External packages should construct the store via New and
// interact only through the app.ContentStore interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
)

// DefaultOrphanGrace is how old an unreferenced blob must be before
// Reconcile removes it. It must exceed the longest gap between a blob write
// and the commit of its metadata row, including SQLite busy waits and slow
// object store uploads.
const DefaultOrphanGrace = 15 * time.Minute

// Store composes an Index and BlobStorage to satisfy app.ContentStore.
// Metadata is always committed or removed first; blob writes precede the
// metadata insert and blob deletes follow the metadata delete.
type Store struct {
	index  Index
	blobs  BlobStorage
	logger *slog.Logger
	grace  time.Duration
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithOrphanGrace sets the minimum age of a blob Reconcile may delete.
// Non-positive values keep DefaultOrphanGrace.
func WithOrphanGrace(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithClock replaces the wall clock Reconcile measures blob age against.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store implementation of app.ContentStore. A nil logger
// falls back to slog.Default().
func New(index Index, blobs BlobStorage, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{index: index, blobs: blobs, logger: logger, grace: DefaultOrphanGrace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ app.ContentStore = (*Store)(nil)

func (s *Store) ready() error {
	if s == nil || s.index == nil || s.blobs == nil {
		return errors.New("store not properly initialized")
	}
	return nil
}

// GetChannel returns the channel or domain.ErrNotFound.
func (s *Store) GetChannel(ctx context.Context, name string) (domain.Channel, error) {
	if err := s.ready(); err != nil {
		return domain.Channel{}, err
	}
	return s.index.GetChannel(ctx, name)
}

// SaveChannel upserts the channel row.
func (s *Store) SaveChannel(ctx context.Context, ch domain.Channel) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.index.UpsertChannel(ctx, ch)
}

// SetChannelPassword replaces the channel's password hash.
func (s *Store) SetChannelPassword(ctx context.Context, name, hash string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.index.SetPasswordHash(ctx, name, hash)
}

// DeleteChannel removes the channel and its files, then their blobs.
func (s *Store) DeleteChannel(ctx context.Context, name string) (int, bool, error) {
	if err := s.ready(); err != nil {
		return 0, false, err
	}
	ids, existed, err := s.index.DeleteChannel(ctx, name)
	if err != nil {
		return 0, false, err
	}
	s.deleteBlobs(ctx, ids)
	return len(ids), existed, nil
}

// PutFile writes the blob first and then the metadata row. When the row
// cannot be written the blob is removed again.
func (s *Store) PutFile(ctx context.Context, rec domain.FileRecord, r io.Reader) (domain.FileRecord, error) {
	if err := s.ready(); err != nil {
		return domain.FileRecord{}, err
	}
	if rec.Size < 0 {
		return domain.FileRecord{}, errors.New("size must be non-negative")
	}
	if err := s.blobs.Write(ctx, rec.StoredID, r, rec.Size); err != nil {
		return domain.FileRecord{}, fmt.Errorf("write blob: %w", err)
	}
	id, err := s.index.InsertFile(ctx, rec)
	if err != nil {
		if dErr := s.blobs.Delete(context.WithoutCancel(ctx), rec.StoredID); dErr != nil {
			s.logger.Warn("blob rollback failed", "domain", "store", "stored_id", rec.StoredID, "err", dErr)
		}
		return domain.FileRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

// ListFiles returns the channel's files, most recent first.
func (s *Store) ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.index.ListFiles(ctx, channel)
}

// GetFile returns one file record.
func (s *Store) GetFile(ctx context.Context, channel string, id int64) (domain.FileRecord, error) {
	if err := s.ready(); err != nil {
		return domain.FileRecord{}, err
	}
	return s.index.GetFile(ctx, channel, id)
}

// OpenBlob opens a file's stored bytes.
func (s *Store) OpenBlob(ctx context.Context, storedID string) (io.ReadCloser, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, storedID)
}

// DeleteFile removes one file. A missing record is reported as deleted=false.
func (s *Store) DeleteFile(ctx context.Context, channel string, id int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	storedID, err := s.index.DeleteFile(ctx, channel, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.deleteBlobs(ctx, []string{storedID})
	return true, nil
}

// DeleteExpired runs the two sweep passes: expired files first, then expired
// channels with everything they still hold.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (app.SweepResult, error) {
	var res app.SweepResult
	if err := s.ready(); err != nil {
		return res, err
	}
	ids, err := s.index.DeleteExpiredFiles(ctx, now)
	if err != nil {
		return res, fmt.Errorf("expire files: %w", err)
	}
	res.Files += len(ids)
	res.BlobErrors += s.deleteBlobs(ctx, ids)

	names, err := s.index.ExpiredChannels(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list expired channels: %w", err)
	}
	for _, name := range names {
		ids, existed, err := s.index.DeleteChannel(ctx, name)
		if err != nil {
			return res, fmt.Errorf("expire channel: %w", err)
		}
		if existed {
			res.Channels++
		}
		res.Files += len(ids)
		res.BlobErrors += s.deleteBlobs(ctx, ids)
	}
	return res, nil
}

// Usage returns per-channel byte totals.
func (s *Store) Usage(ctx context.Context) ([]domain.ChannelUsage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.index.Usage(ctx)
}

// Reconcile removes blobs that no file row references and that are older
// than the orphan grace. Younger blobs may belong to an upload whose row is
// still waiting to commit.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	blobIDs, err := s.blobs.List(ctx, s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	refIDs, err := s.index.ListStoredIDs(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{}, len(refIDs))
	for _, id := range refIDs {
		referenced[id] = struct{}{}
	}
	removed := 0
	for _, bid := range blobIDs {
		if _, ok := referenced[bid]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, bid); err != nil {
			s.logger.Warn("orphan blob delete failed", "domain", "store", "stored_id", bid, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// deleteBlobs removes blobs best-effort and returns the number of failures.
// Failures leave orphans behind for Reconcile.
func (s *Store) deleteBlobs(ctx context.Context, ids []string) int {
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for _, id := range ids {
		if err := s.blobs.Delete(ctx, id); err != nil {
			failed++
			s.logger.Warn("blob delete failed", "domain", "store", "stored_id", id, "err", err)
		}
	}
	return failed
}
