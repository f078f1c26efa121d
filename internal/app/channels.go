package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/metrics"
)

const maxChannelName = 256

// SaveChannelInput is the payload of a channel save.
type SaveChannelInput struct {
	Name          string
	Content       string
	ExpireMinutes int    // 0: never expires
	Password      string // empty: keep the stored password
	Owner         string // token of the authorizing key
}

func validateChannelName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > maxChannelName {
		return fmt.Errorf("%w: channel name", domain.ErrInvalidInput)
	}
	return nil
}

// GetChannel returns the channel's view, or the empty default shape when the
// channel has never been saved.
func (s *Service) GetChannel(ctx context.Context, name string) (ChannelView, error) {
	if err := validateChannelName(name); err != nil {
		return ChannelView{}, err
	}
	ch, err := s.Store.GetChannel(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return ChannelView{Name: name}, nil
	}
	if err != nil {
		return ChannelView{}, err
	}
	if domain.Expired(ch.ExpireAt, s.Clock.Now()) {
		if _, err := s.CleanupChannel(ctx, name); err != nil {
			return ChannelView{}, err
		}
		return ChannelView{}, domain.ErrChannelExpired
	}
	return ChannelView{Name: ch.Name, Content: ch.Content, ExpireAt: ch.ExpireAt, PasswordSet: ch.HasPassword()}, nil
}

// SaveChannel upserts a channel and returns its computed expiry (zero for
// never). A supplied password replaces the stored hash; an omitted one keeps it.
func (s *Service) SaveChannel(ctx context.Context, in SaveChannelInput) (time.Time, error) {
	if err := validateChannelName(in.Name); err != nil {
		return time.Time{}, err
	}
	if err := domain.ValidateExpireMinutes(in.ExpireMinutes); err != nil {
		return time.Time{}, err
	}
	var hash string
	if in.Password != "" {
		h, err := s.Hasher.Hash(in.Password)
		if err != nil {
			return time.Time{}, err
		}
		hash = h
	}
	expireAt := domain.ExpiryAfter(s.Clock.Now(), in.ExpireMinutes)
	ch := domain.Channel{Name: in.Name, Content: in.Content, PasswordHash: hash, ExpireAt: expireAt, OwnerKey: in.Owner}
	if err := s.Store.SaveChannel(ctx, ch); err != nil {
		return time.Time{}, err
	}
	s.inc(metrics.CounterChannelsSaved, 1)
	return expireAt, nil
}

// SetChannelPassword sets the channel password, or removes it when password
// is empty.
func (s *Service) SetChannelPassword(ctx context.Context, name, password string) error {
	if err := validateChannelName(name); err != nil {
		return err
	}
	var hash string
	if password != "" {
		h, err := s.Hasher.Hash(password)
		if err != nil {
			return err
		}
		hash = h
	}
	if err := s.Store.SetChannelPassword(ctx, name, hash); err != nil {
		return err
	}
	s.log().Info("channel password updated", "domain", "channels", "action", "password", "cleared", hash == "")
	return nil
}

// CleanupChannel deletes a channel with all of its files and blobs. Deleting a
// channel that does not exist succeeds.
func (s *Service) CleanupChannel(ctx context.Context, name string) (int, error) {
	n, existed, err := s.Store.DeleteChannel(ctx, name)
	if err != nil {
		return 0, err
	}
	if existed {
		s.inc(metrics.CounterChannelsDeleted, 1)
	}
	s.inc(metrics.CounterFilesDeleted, n)
	if existed || n > 0 {
		s.log().Info("channel removed", "domain", "channels", "action", "cleanup", "files", n)
	}
	return n, nil
}
