// Package domain ttl.go contains expiry arithmetic shared by keys, channels and files.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// RotationMinutes is the closed set of lifetimes a rotated master key may be
// minted with: one hour, one day, one week.
var RotationMinutes = []int{60, 1440, 10080}

// ValidateRotationMinutes returns ErrInvalidTTL unless m is in RotationMinutes.
func ValidateRotationMinutes(m int) error {
	if !slices.Contains(RotationMinutes, m) {
		return ErrInvalidTTL
	}
	return nil
}

// MaxExpireMinutes caps channel and file lifetimes at roughly one hundred
// years. Larger values would overflow the epoch-seconds arithmetic.
const MaxExpireMinutes = 100 * 365 * 24 * 60

// ValidateExpireMinutes accepts zero (never expires) and positive minute
// counts up to MaxExpireMinutes.
func ValidateExpireMinutes(m int) error {
	if m < 0 {
		return ErrInvalidInput
	}
	if m > MaxExpireMinutes {
		return fmt.Errorf("%w: expiry above %d minutes", ErrInvalidInput, MaxExpireMinutes)
	}
	return nil
}

// ExpiryAfter returns now + minutes truncated to whole seconds. A non-positive
// minute count yields the zero time, which means "never expires". Counts above
// MaxExpireMinutes are clamped.
func ExpiryAfter(now time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return time.Time{}
	}
	minutes = min(minutes, MaxExpireMinutes)
	return time.Unix(now.Unix()+int64(minutes)*60, 0).UTC()
}

// Expired reports whether a record with expiry expireAt is past its lifetime at
// now. The zero time never expires; otherwise the boundary second itself counts
// as expired.
func Expired(expireAt, now time.Time) bool {
	if expireAt.IsZero() {
		return false
	}
	return now.Unix() >= expireAt.Unix()
}

// UnixOrZero converts an optional epoch-seconds value to a time. NULL and
// non-positive values map to the zero time.
func UnixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
