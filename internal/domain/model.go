// Package domain model.go contains the persisted records of the service.
package domain

import "time"

// MasterKey is a credential authorizing channel operations. A zero ExpiresAt
// marks a permanent key; only permanent keys may mint further keys.
type MasterKey struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Bootstrap bool // created automatically at first start
}

// IsPermanent reports whether the key never expires.
func (k MasterKey) IsPermanent() bool { return k.ExpiresAt.IsZero() }

// Expired reports whether the key is past its expiry at now.
func (k MasterKey) Expired(now time.Time) bool { return Expired(k.ExpiresAt, now) }

// Channel is a named container for one text blob and zero or more files.
type Channel struct {
	Name         string
	Content      string
	PasswordHash string    // empty: open to any valid master key
	ExpireAt     time.Time // zero: never
	OwnerKey     string    // informational only
}

// HasPassword reports whether reads and writes require a channel password.
func (c Channel) HasPassword() bool { return c.PasswordHash != "" }

// FileRecord is the metadata of an uploaded file. StoredID addresses the blob
// and is never exposed to clients.
type FileRecord struct {
	ID           int64
	Channel      string
	StoredID     string
	OriginalName string
	Size         int64
	UploadedAt   time.Time
	ExpireAt     time.Time // zero: never
}

// ChannelUsage is the aggregate byte total of one channel's files.
type ChannelUsage struct {
	Channel string
	Total   int64
}
