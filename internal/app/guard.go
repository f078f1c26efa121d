package app

import (
	"context"
	"errors"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/metrics"
)

// Credentials carries what a caller presented for one request. Channel is
// empty for master-key-only operations.
type Credentials struct {
	Token    string
	Channel  string
	Password string
}

// Authorize validates the master key and, for channel-scoped calls, the
// channel password. An unsaved channel has no password yet and is open to any
// valid key. An expired channel is deleted on the spot and reported as
// domain.ErrChannelExpired. The returned key is informational; access is never
// restricted by which key created a channel.
func (s *Service) Authorize(ctx context.Context, c Credentials) (domain.MasterKey, error) {
	k, err := s.ValidateKey(ctx, c.Token)
	if err != nil {
		s.deny(err)
		return domain.MasterKey{}, err
	}
	if c.Channel == "" {
		return k, nil
	}
	ch, err := s.Store.GetChannel(ctx, c.Channel)
	if errors.Is(err, domain.ErrNotFound) {
		return k, nil
	}
	if err != nil {
		return domain.MasterKey{}, err
	}
	if domain.Expired(ch.ExpireAt, s.Clock.Now()) {
		if _, cErr := s.CleanupChannel(ctx, ch.Name); cErr != nil {
			return domain.MasterKey{}, cErr
		}
		return domain.MasterKey{}, domain.ErrChannelExpired
	}
	if ch.HasPassword() && (c.Password == "" || !s.Hasher.Verify(ch.PasswordHash, c.Password)) {
		s.deny(domain.ErrPasswordRequired)
		return domain.MasterKey{}, domain.ErrPasswordRequired
	}
	return k, nil
}

func (s *Service) deny(reason error) {
	s.inc(metrics.CounterAuthDenied, 1)
	s.log().Debug("access denied", "domain", "guard", "reason", reason.Error())
}
