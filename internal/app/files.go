package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/metrics"
)

// UploadInput is one uploaded file.
type UploadInput struct {
	Channel       string
	Body          io.Reader // nil: no file supplied
	Size          int64
	Name          string
	ExpireMinutes int // 0: never expires
}

// UploadFile stores a file under a freshly generated stored id. The id is
// random and unrelated to the client supplied name.
func (s *Service) UploadFile(ctx context.Context, in UploadInput) (domain.FileRecord, error) {
	if err := validateChannelName(in.Channel); err != nil {
		return domain.FileRecord{}, err
	}
	if in.Body == nil {
		return domain.FileRecord{}, domain.ErrNoFile
	}
	if in.Size < 0 {
		return domain.FileRecord{}, fmt.Errorf("%w: negative size", domain.ErrInvalidInput)
	}
	if s.MaxUploadBytes > 0 && in.Size > s.MaxUploadBytes {
		return domain.FileRecord{}, domain.ErrTooLarge
	}
	if err := domain.ValidateExpireMinutes(in.ExpireMinutes); err != nil {
		return domain.FileRecord{}, err
	}
	id, err := domain.NewStoredID()
	if err != nil {
		return domain.FileRecord{}, err
	}
	now := s.Clock.Now().UTC()
	rec := domain.FileRecord{
		Channel:      in.Channel,
		StoredID:     id.String(),
		OriginalName: displayName(in.Name),
		Size:         in.Size,
		UploadedAt:   now.Truncate(time.Second),
		ExpireAt:     domain.ExpiryAfter(now, in.ExpireMinutes),
	}
	rec, err = s.Store.PutFile(ctx, rec, in.Body)
	if err != nil {
		return domain.FileRecord{}, err
	}
	s.inc(metrics.CounterFilesUploaded, 1)
	s.observe(metrics.SummaryUploadBytes, rec.Size)
	return rec, nil
}

// displayName reduces a client supplied file name to its base name.
func displayName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "file"
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return "file"
	}
	return base
}

// ListFiles returns the channel's files, most recent first.
func (s *Service) ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error) {
	if err := validateChannelName(channel); err != nil {
		return nil, err
	}
	return s.Store.ListFiles(ctx, channel)
}

// DownloadFile returns a file's metadata and a reader over its bytes. An
// expired file is reported as domain.ErrFileExpired and left for the sweeper.
func (s *Service) DownloadFile(ctx context.Context, channel string, id int64) (domain.FileRecord, io.ReadCloser, error) {
	rec, err := s.Store.GetFile(ctx, channel, id)
	if err != nil {
		return domain.FileRecord{}, nil, err
	}
	if domain.Expired(rec.ExpireAt, s.Clock.Now()) {
		return domain.FileRecord{}, nil, domain.ErrFileExpired
	}
	rc, err := s.Store.OpenBlob(ctx, rec.StoredID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.FileRecord{}, nil, domain.ErrNotFound
		}
		return domain.FileRecord{}, nil, err
	}
	return rec, rc, nil
}

// DeleteFile removes one file. Deleting a file that is already gone succeeds
// with deleted == false.
func (s *Service) DeleteFile(ctx context.Context, channel string, id int64) (bool, error) {
	deleted, err := s.Store.DeleteFile(ctx, channel, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.inc(metrics.CounterFilesDeleted, 1)
	}
	return deleted, nil
}
