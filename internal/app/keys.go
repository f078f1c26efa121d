package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/metrics"
)

// Bootstrap ensures a permanent master key exists. It is idempotent and safe
// to call concurrently: the store inserts only when no key exists. The
// returned key is the bootstrap key whether or not this call created it.
func (s *Service) Bootstrap(ctx context.Context) (domain.MasterKey, bool, error) {
	token, err := domain.NewToken()
	if err != nil {
		return domain.MasterKey{}, false, err
	}
	candidate := domain.MasterKey{Token: token, CreatedAt: s.Clock.Now().UTC().Truncate(time.Second), Bootstrap: true}
	created, err := s.Keys.InsertIfEmpty(ctx, candidate)
	if err != nil {
		return domain.MasterKey{}, false, fmt.Errorf("bootstrap master key: %w", err)
	}
	if created {
		s.inc(metrics.CounterKeysBootstrapped, 1)
		s.log().Info("first master key generated", "domain", "keys", "action", "bootstrap")
		return candidate, true, nil
	}
	k, err := s.Keys.FirstKey(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MasterKey{}, false, domain.ErrNotInitialized
		}
		return domain.MasterKey{}, false, err
	}
	return k, false, nil
}

// ValidateKey resolves token to a usable master key. Expiry is enforced here
// lazily; expired keys are never revoked actively.
func (s *Service) ValidateKey(ctx context.Context, token string) (domain.MasterKey, error) {
	if token == "" {
		return domain.MasterKey{}, domain.ErrMissingCredential
	}
	k, err := s.Keys.GetKey(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MasterKey{}, domain.ErrInvalidCredential
		}
		return domain.MasterKey{}, err
	}
	if k.Expired(s.Clock.Now()) {
		return domain.MasterKey{}, domain.ErrExpiredCredential
	}
	return k, nil
}

// RotateKey mints a new time-limited key from a permanent parent. Time-limited
// keys can never mint, whatever the requested lifetime.
func (s *Service) RotateKey(ctx context.Context, parentToken string, minutes int) (domain.MasterKey, error) {
	parent, err := s.ValidateKey(ctx, parentToken)
	if err != nil {
		return domain.MasterKey{}, err
	}
	if !parent.IsPermanent() {
		s.log().Warn("rotate denied", "domain", "keys", "action", "rotate", "reason", "visitor_key")
		return domain.MasterKey{}, domain.ErrForbidden
	}
	if err := domain.ValidateRotationMinutes(minutes); err != nil {
		return domain.MasterKey{}, err
	}
	token, err := domain.NewToken()
	if err != nil {
		return domain.MasterKey{}, err
	}
	now := s.Clock.Now().UTC().Truncate(time.Second)
	k := domain.MasterKey{Token: token, CreatedAt: now, ExpiresAt: domain.ExpiryAfter(now, minutes)}
	if err := s.Keys.InsertKey(ctx, k); err != nil {
		return domain.MasterKey{}, fmt.Errorf("insert master key: %w", err)
	}
	s.inc(metrics.CounterKeysRotated, 1)
	s.log().Info("master key minted", "domain", "keys", "action", "rotate", "minutes", minutes, "expires_at", k.ExpiresAt.Unix())
	return k, nil
}

// DescribeKey reports the capabilities of k.
func (s *Service) DescribeKey(k domain.MasterKey) KeyInfo {
	return KeyInfo{
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		IsPermanent: k.IsPermanent(),
		CanRotate:   k.IsPermanent(),
	}
}

// KeysExist reports whether any master key has been created.
func (s *Service) KeysExist(ctx context.Context) (bool, error) {
	return s.Keys.HasKeys(ctx)
}

// PeekBootstrapKey returns the bootstrap key token for one-time display.
// Nothing marks the key as claimed, so callers decide whether to expose it.
func (s *Service) PeekBootstrapKey(ctx context.Context) (string, error) {
	k, err := s.Keys.FirstKey(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotInitialized
		}
		return "", err
	}
	return k.Token, nil
}
