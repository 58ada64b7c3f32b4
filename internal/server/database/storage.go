package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrConfigNotFound = errors.New("storage config not found")

const configColumns = `id, name, provider_type, endpoint_url, bucket_name, region,
	       access_key_id, secret_access_key, path_style, default_folder,
	       custom_host, is_public, is_default, admin_id, total_storage_bytes,
	       signature_expires_in, created_at, updated_at`

func scanConfig(row interface{ Scan(dest ...any) error }) (*StorageConfig, error) {
	c := &StorageConfig{}
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.ProviderType,
		&c.EndpointURL,
		&c.BucketName,
		&c.Region,
		&c.AccessKeyID,
		&c.SecretAccessKey,
		&c.PathStyle,
		&c.DefaultFolder,
		&c.CustomHost,
		&c.IsPublic,
		&c.IsDefault,
		&c.AdminID,
		&c.TotalStorageBytes,
		&c.SignatureExpiresIn,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StorageRepository provides access to storage configs and their mounts.
type StorageRepository struct {
	db *DB
}

// NewStorageRepository creates a new StorageRepository.
func NewStorageRepository(db *DB) *StorageRepository {
	return &StorageRepository{db: db}
}

// GetConfig retrieves a storage config by ID.
func (r *StorageRepository) GetConfig(ctx context.Context, id string) (*StorageConfig, error) {
	c, err := scanConfig(r.db.Pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM storage_configs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get storage config: %w", err)
	}
	return c, nil
}

// DefaultConfig returns the default storage config for adminID, falling
// back to the public default. API-key callers pass an empty adminID and
// get the public default directly.
func (r *StorageRepository) DefaultConfig(ctx context.Context, adminID string) (*StorageConfig, error) {
	if adminID != "" {
		c, err := scanConfig(r.db.Pool.QueryRow(ctx, `
			SELECT `+configColumns+`
			FROM storage_configs
			WHERE is_default = TRUE AND admin_id = $1
			ORDER BY updated_at DESC LIMIT 1
		`, adminID))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to get default storage config: %w", err)
		}
	}

	c, err := scanConfig(r.db.Pool.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM storage_configs
		WHERE is_default = TRUE AND is_public = TRUE
		ORDER BY updated_at DESC LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get public default storage config: %w", err)
	}
	return c, nil
}

// ActiveMounts returns every active mount joined with the public flag
// and provider type of its storage config, ready for path resolution.
func (r *StorageRepository) ActiveMounts(ctx context.Context) ([]MountWithConfig, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT m.id, m.name, m.mount_path, m.storage_config_id, m.is_active,
		       m.sort_order, m.created_at, m.updated_at,
		       c.provider_type, c.is_public
		FROM storage_mounts m
		JOIN storage_configs c ON c.id = m.storage_config_id
		WHERE m.is_active = TRUE
		ORDER BY m.sort_order ASC, m.mount_path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mounts: %w", err)
	}
	defer rows.Close()

	var mounts []MountWithConfig
	for rows.Next() {
		var m MountWithConfig
		if err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.MountPath,
			&m.StorageConfigID,
			&m.IsActive,
			&m.SortOrder,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.ProviderType,
			&m.ConfigPublic,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mount: %w", err)
		}
		mounts = append(mounts, m)
	}
	return mounts, rows.Err()
}

// CreateConfig inserts a storage config. Credentials must already be
// sealed; this layer never sees plaintext keys.
func (r *StorageRepository) CreateConfig(ctx context.Context, c *StorageConfig) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.SignatureExpiresIn <= 0 {
		c.SignatureExpiresIn = 3600
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO storage_configs (
			id, name, provider_type, endpoint_url, bucket_name, region,
			access_key_id, secret_access_key, path_style, default_folder,
			custom_host, is_public, is_default, admin_id, total_storage_bytes,
			signature_expires_in, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		c.ID,
		c.Name,
		c.ProviderType,
		c.EndpointURL,
		c.BucketName,
		c.Region,
		c.AccessKeyID,
		c.SecretAccessKey,
		c.PathStyle,
		c.DefaultFolder,
		c.CustomHost,
		c.IsPublic,
		c.IsDefault,
		c.AdminID,
		c.TotalStorageBytes,
		c.SignatureExpiresIn,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create storage config: %w", err)
	}
	return nil
}

// CreateMount inserts a mount binding a virtual path to a storage config.
func (r *StorageRepository) CreateMount(ctx context.Context, m *Mount) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO storage_mounts (
			id, name, mount_path, storage_config_id, is_active, sort_order,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		m.ID,
		m.Name,
		m.MountPath,
		m.StorageConfigID,
		m.IsActive,
		m.SortOrder,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mount: %w", err)
	}
	return nil
}
