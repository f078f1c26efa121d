// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Credential and authorization failures.
var (
	ErrMissingCredential = errors.New("missing master key")
	ErrInvalidCredential = errors.New("invalid master key")
	ErrExpiredCredential = errors.New("expired master key")
	// ErrForbidden marks a privilege violation, e.g. a time-limited key trying to rotate.
	ErrForbidden        = errors.New("forbidden")
	ErrPasswordRequired = errors.New("password required")
	ErrNotInitialized   = errors.New("master key not initialized")
)

// Input and lookup failures.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidTTL   = fmt.Errorf("%w: ttl not allowed", ErrInvalidInput)
	ErrNoFile       = fmt.Errorf("%w: no file supplied", ErrInvalidInput)
	ErrInvalidID    = fmt.Errorf("%w: invalid stored id", ErrInvalidInput)
	ErrTooLarge     = errors.New("payload too large")
	ErrNotFound     = errors.New("not found")
	// ErrExpired is distinct from ErrNotFound: the record existed but its TTL elapsed.
	ErrExpired        = errors.New("expired")
	ErrChannelExpired = fmt.Errorf("channel %w", ErrExpired)
	ErrFileExpired    = fmt.Errorf("file %w", ErrExpired)
)
