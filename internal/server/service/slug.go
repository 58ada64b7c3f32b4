package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	slugLength   = 6
	slugAttempts = 10
)

// allocateSlug validates a caller-supplied slug or generates a fresh
// one. Generation retries a bounded number of times against existing
// slugs; the database unique index remains the final arbiter when two
// requests race past this check.
func (s *Service) allocateSlug(ctx context.Context, custom string, override bool) (string, error) {
	if custom != "" {
		if !slugPattern.MatchString(custom) {
			return "", &ValidationError{Field: "slug", Reason: "only letters, digits, hyphen and underscore are allowed"}
		}
		existing, err := s.files.GetBySlug(ctx, custom)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if existing != nil && !override {
			return "", &ConflictError{Slug: custom}
		}
		return custom, nil
	}

	for i := 0; i < slugAttempts; i++ {
		candidate, err := randomID(slugLength)
		if err != nil {
			return "", err
		}
		existing, err := s.files.GetBySlug(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", &ExhaustionError{Attempts: slugAttempts}
}

// randomID produces a cryptographically random alphanumeric string.
func randomID(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
