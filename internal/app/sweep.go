package app

import (
	"context"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/metrics"
)

// Dashboard aggregates stored bytes per channel.
type Dashboard struct {
	Channels  []domain.ChannelUsage
	TotalSize int64
}

// Sweep deletes every file and channel whose expiry has elapsed. Expired
// channels cascade to all of their files regardless of the files' own TTL.
// Running it twice in a row, or concurrently with explicit deletes, is safe.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	res, err := s.Store.DeleteExpired(ctx, s.Clock.Now())
	if err != nil {
		return res, err
	}
	s.inc(metrics.CounterSweepFilesDeleted, res.Files)
	s.inc(metrics.CounterSweepChannelsDeleted, res.Channels)
	s.inc(metrics.CounterBlobDeleteErrors, res.BlobErrors)
	if res.Files > 0 || res.Channels > 0 {
		s.log().Info("sweep", "domain", "sweeper", "action", "expire", "files", res.Files, "channels", res.Channels, "blob_errors", res.BlobErrors)
	}
	return res, nil
}

// Reconcile removes blobs that no file record references.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	n, err := s.Store.Reconcile(ctx)
	if err != nil {
		return n, err
	}
	s.inc(metrics.CounterOrphanBlobsDeleted, n)
	return n, nil
}

// Dashboard sweeps first so totals never include expired content, then
// returns per-channel byte totals and the grand total.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	if _, err := s.Sweep(ctx); err != nil {
		return Dashboard{}, err
	}
	usage, err := s.Store.Usage(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{Channels: usage}
	for _, u := range usage {
		d.TotalSize += u.Total
	}
	return d, nil
}
