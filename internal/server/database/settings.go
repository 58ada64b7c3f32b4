package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// DefaultMaxUploadMiB applies when the max_upload_size setting is
// missing or unparseable.
const DefaultMaxUploadMiB = 100

// SettingsRepository reads and writes system_settings rows.
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the raw value for key, or "" when the key is absent.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx,
		"SELECT value FROM system_settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a setting.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// MaxUploadBytes returns the configured single-upload ceiling in bytes.
// The stored value is in MiB.
func (r *SettingsRepository) MaxUploadBytes(ctx context.Context) (int64, error) {
	raw, err := r.Get(ctx, "max_upload_size")
	if err != nil {
		return 0, err
	}

	mib, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || mib <= 0 {
		mib = DefaultMaxUploadMiB
	}
	return mib * 1024 * 1024, nil
}
