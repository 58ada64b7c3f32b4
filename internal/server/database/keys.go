package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrKeyNotFound = errors.New("api key not found")

// APIKeyRepository resolves API key secrets into key records.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// GetByKey looks up a key record by its secret value.
func (r *APIKeyRepository) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	k := &APIKey{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, key, basic_path, text_permission, file_permission,
		       mount_permission, expires_at, last_used, created_at
		FROM api_keys WHERE key = $1
	`, key).Scan(
		&k.ID,
		&k.Name,
		&k.Key,
		&k.BasicPath,
		&k.TextPermission,
		&k.FilePermission,
		&k.MountPermission,
		&k.ExpiresAt,
		&k.LastUsed,
		&k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

// TouchLastUsed records that the key was just used.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE api_keys SET last_used = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// Create inserts an API key record.
func (r *APIKeyRepository) Create(ctx context.Context, k *APIKey) error {
	if k.BasicPath == "" {
		k.BasicPath = "/"
	}
	if k.ExpiresAt.IsZero() {
		k.ExpiresAt = NeverExpires
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO api_keys (
			id, name, key, basic_path, text_permission, file_permission,
			mount_permission, expires_at, last_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		k.ID,
		k.Name,
		k.Key,
		k.BasicPath,
		k.TextPermission,
		k.FilePermission,
		k.MountPermission,
		k.ExpiresAt,
		k.LastUsed,
		k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}
