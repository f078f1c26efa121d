// Package app contains the application orchestration layer for ferry. It wires
// domain validation with persistence ports without performing any I/O itself.
package app

import (
	"log/slog"
	"time"
)

// Service is the operation surface consumed by the boundary layer: key
// lifecycle, access guard, channel and file mutation, and the expiry sweep.
// Every channel-scoped call is expected to pass through Authorize first.
type Service struct {
	Keys    KeyStore
	Store   ContentStore
	Clock   Clock
	Hasher  PasswordHasher
	Metrics Recorder     // optional
	Logger  *slog.Logger // optional, defaults to slog.Default()

	MaxUploadBytes int64 // 0 disables the size check
}

// KeyInfo describes the calling key without revealing it.
type KeyInfo struct {
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero for permanent keys
	IsPermanent bool
	CanRotate   bool
}

// ChannelView is the client-visible shape of a channel. An unsaved channel is
// reported with empty content, no expiry and no password.
type ChannelView struct {
	Name        string
	Content     string
	ExpireAt    time.Time
	PasswordSet bool
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) inc(name string, delta int) {
	if s.Metrics == nil || delta <= 0 {
		return
	}
	s.Metrics.Inc(name, int64(delta))
}

func (s *Service) observe(name string, v int64) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Observe(name, v)
}
