package service

import (
	"context"
	"fmt"

	"wharf/internal/server/database"
)

// admitWrite checks an incoming write against the config's capacity
// ceiling. excludeID names a placeholder row whose size must not count
// toward usage during the commit-time check; it is empty otherwise.
// The check is advisory under concurrent writers: two requests can both
// pass and jointly overshoot the ceiling.
func (s *Service) admitWrite(ctx context.Context, cfg *database.StorageConfig, incoming int64, excludeID string) error {
	if cfg.TotalStorageBytes == nil {
		return nil
	}
	ceiling := *cfg.TotalStorageBytes

	used, err := s.files.SumSizeByConfig(ctx, cfg.ID, excludeID)
	if err != nil {
		return fmt.Errorf("failed to compute storage usage: %w", err)
	}

	if used+incoming > ceiling {
		remaining := ceiling - used
		if remaining < 0 {
			remaining = 0
		}
		return &CapacityError{Requested: incoming, Remaining: remaining, Total: ceiling}
	}
	return nil
}
