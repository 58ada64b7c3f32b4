package service

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Sentinel errors for the download path.
var (
	ErrExpired          = errors.New("file has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrViewsExhausted   = errors.New("view limit reached")
	ErrTooLarge         = errors.New("file exceeds maximum allowed size")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a slug that is already taken without override.
type ConflictError struct {
	Slug string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slug %q already exists", e.Slug)
}

// PermissionError reports an identity that may not perform the
// operation: no accessible mount for the target config, or an
// ownership mismatch on override or commit.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// NotFoundError reports a missing config or file.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return e.What + " not found"
}

// CapacityError reports a write rejected by the storage ceiling. Sizes
// are rendered human-readable in the message; the raw values ride along
// for API responses.
type CapacityError struct {
	Requested int64
	Remaining int64
	Total     int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient storage: requested %s, %s remaining of %s",
		humanize.IBytes(uint64(e.Requested)),
		humanize.IBytes(uint64(e.Remaining)),
		humanize.IBytes(uint64(e.Total)))
}

// ExhaustionError reports that slug generation ran out of attempts.
// The request as a whole is safe to retry.
type ExhaustionError struct {
	Attempts int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("could not allocate a unique slug after %d attempts", e.Attempts)
}

// TransferError wraps an object-store failure during upload or
// presigning.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
