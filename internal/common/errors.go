// Package common defines shared constants and sentinel errors used across
// chunkvault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal       = errors.New("internal error")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")

	// ErrIntegrity is returned when a chunk checksum does not match or AEAD
	// authentication fails. It is never retried.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrCorruption is returned when persisted metadata is inconsistent, for
	// example a non-empty file without chunks or a gap in chunk indices.
	ErrCorruption = errors.New("corrupted file metadata")

	// Remote backend errors.
	ErrAuth      = errors.New("remote authorization failed")
	ErrTransient = errors.New("transient remote failure")
)
