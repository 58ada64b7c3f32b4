package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_storage",
		SQL: `
			CREATE TABLE IF NOT EXISTS storage_configs (
				id                   VARCHAR(36)  PRIMARY KEY,
				name                 VARCHAR(100) NOT NULL,
				provider_type        VARCHAR(32)  NOT NULL,
				endpoint_url         VARCHAR(255) NOT NULL,
				bucket_name          VARCHAR(100) NOT NULL,
				region               VARCHAR(50)  NOT NULL DEFAULT '',
				access_key_id        TEXT         NOT NULL,
				secret_access_key    TEXT         NOT NULL,
				path_style           BOOLEAN      NOT NULL DEFAULT FALSE,
				default_folder       VARCHAR(255) NOT NULL DEFAULT '',
				custom_host          VARCHAR(255) NOT NULL DEFAULT '',
				is_public            BOOLEAN      NOT NULL DEFAULT FALSE,
				is_default           BOOLEAN      NOT NULL DEFAULT FALSE,
				admin_id             VARCHAR(36),
				total_storage_bytes  BIGINT,
				signature_expires_in INTEGER      NOT NULL DEFAULT 3600,
				created_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				updated_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS storage_mounts (
				id                VARCHAR(36)  PRIMARY KEY,
				name              VARCHAR(100) NOT NULL,
				mount_path        VARCHAR(255) NOT NULL,
				storage_config_id VARCHAR(36)  NOT NULL REFERENCES storage_configs(id) ON DELETE CASCADE,
				is_active         BOOLEAN      NOT NULL DEFAULT TRUE,
				sort_order        INTEGER      NOT NULL DEFAULT 0,
				created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_storage_mounts_active ON storage_mounts(is_active);
		`,
	},
	{
		Version: "000002_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id                VARCHAR(36)   PRIMARY KEY,
				slug              VARCHAR(255)  NOT NULL,
				filename          VARCHAR(255)  NOT NULL,
				storage_path      VARCHAR(1024) NOT NULL,
				s3_url            TEXT          NOT NULL DEFAULT '',
				storage_config_id VARCHAR(36)   NOT NULL REFERENCES storage_configs(id),
				mimetype          VARCHAR(255)  NOT NULL DEFAULT 'application/octet-stream',
				size              BIGINT        NOT NULL DEFAULT 0,
				etag              VARCHAR(255),
				created_by        VARCHAR(100)  NOT NULL DEFAULT '',
				remark            TEXT          NOT NULL DEFAULT '',
				password          VARCHAR(255),
				expires_at        TIMESTAMPTZ   NOT NULL,
				max_views         INTEGER       NOT NULL DEFAULT 0,
				views             INTEGER       NOT NULL DEFAULT 0,
				use_proxy         BOOLEAN       NOT NULL DEFAULT FALSE,
				created_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_files_slug ON files(slug);
			CREATE INDEX IF NOT EXISTS idx_files_storage_config ON files(storage_config_id);
			CREATE INDEX IF NOT EXISTS idx_files_expires_at ON files(expires_at);
			CREATE INDEX IF NOT EXISTS idx_files_created_by ON files(created_by);
			CREATE TABLE IF NOT EXISTS file_passwords (
				file_id        VARCHAR(36)  PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
				plain_password VARCHAR(255) NOT NULL,
				created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				updated_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version: "000003_create_api_keys_and_settings",
		SQL: `
			CREATE TABLE IF NOT EXISTS api_keys (
				id               VARCHAR(36)  PRIMARY KEY,
				name             VARCHAR(100) NOT NULL,
				key              VARCHAR(255) NOT NULL UNIQUE,
				basic_path       VARCHAR(255) NOT NULL DEFAULT '/',
				text_permission  BOOLEAN      NOT NULL DEFAULT FALSE,
				file_permission  BOOLEAN      NOT NULL DEFAULT FALSE,
				mount_permission BOOLEAN      NOT NULL DEFAULT FALSE,
				expires_at       TIMESTAMPTZ  NOT NULL,
				last_used        TIMESTAMPTZ,
				created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS system_settings (
				key        VARCHAR(100) PRIMARY KEY,
				value      TEXT         NOT NULL,
				updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			INSERT INTO system_settings (key, value) VALUES ('max_upload_size', '100')
			ON CONFLICT (key) DO NOTHING;
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	// Create migrations tracking table
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		// Check if already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		// Execute migration in a transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
