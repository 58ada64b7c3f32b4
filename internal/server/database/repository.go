package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrDuplicateSlug = errors.New("slug already exists")
	ErrEmptyField    = errors.New("required field is empty after trimming")
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The slug index is the final arbiter of the allocation race;
// callers translate this into a conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const fileColumns = `id, slug, filename, storage_path, s3_url, storage_config_id,
	       mimetype, size, etag, created_by, remark, password,
	       expires_at, max_views, views, use_proxy, created_at, updated_at`

func scanFile(row interface{ Scan(dest ...any) error }) (*FileRecord, error) {
	f := &FileRecord{}
	err := row.Scan(
		&f.ID,
		&f.Slug,
		&f.Filename,
		&f.StoragePath,
		&f.S3URL,
		&f.StorageConfigID,
		&f.MimeType,
		&f.Size,
		&f.ETag,
		&f.CreatedBy,
		&f.Remark,
		&f.Password,
		&f.ExpiresAt,
		&f.MaxViews,
		&f.Views,
		&f.UseProxy,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FileRepository provides CRUD operations for file records and their
// password shadow rows.
type FileRepository struct {
	db *DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a file record, either as a presign-flow placeholder or
// as a completed direct upload. Name and slug must be non-empty after
// trimming; numeric fields are clamped to non-negative; a zero expiry
// is stored as the never-expires sentinel.
func (r *FileRepository) Create(ctx context.Context, f *FileRecord) error {
	f.Slug = strings.TrimSpace(f.Slug)
	f.Filename = strings.TrimSpace(f.Filename)
	if f.Slug == "" {
		return fmt.Errorf("%w: slug", ErrEmptyField)
	}
	if f.Filename == "" {
		return fmt.Errorf("%w: filename", ErrEmptyField)
	}
	if f.Size < 0 {
		f.Size = 0
	}
	if f.MaxViews < 0 {
		f.MaxViews = 0
	}
	if f.Views < 0 {
		f.Views = 0
	}
	if f.ExpiresAt.IsZero() {
		f.ExpiresAt = NeverExpires
	}

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (
			id, slug, filename, storage_path, s3_url, storage_config_id,
			mimetype, size, etag, created_by, remark, password,
			expires_at, max_views, views, use_proxy, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		f.ID,
		f.Slug,
		f.Filename,
		f.StoragePath,
		f.S3URL,
		f.StorageConfigID,
		f.MimeType,
		f.Size,
		f.ETag,
		f.CreatedBy,
		f.Remark,
		f.Password,
		f.ExpiresAt,
		f.MaxViews,
		f.Views,
		f.UseProxy,
		f.CreatedAt,
		f.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetByID retrieves a file record by its ID.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// GetBySlug retrieves a file record by its public slug. A missing slug
// is not an error: callers use this as an existence probe.
func (r *FileRepository) GetBySlug(ctx context.Context, slug string) (*FileRecord, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get file by slug: %w", err)
	}
	return f, nil
}

// FileUpdate is a sparse update: only non-nil fields are written.
// An empty Password clears the column to NULL.
type FileUpdate struct {
	Slug      *string
	Filename  *string
	MimeType  *string
	Size      *int64
	ETag      *string
	CreatedBy *string
	Remark    *string
	Password  *string
	ExpiresAt *time.Time
	MaxViews  *int
	UseProxy  *bool
}

// Update writes the supplied fields of a file record in place.
func (r *FileRepository) Update(ctx context.Context, id string, u FileUpdate) error {
	sets := []string{"updated_at = NOW()"}
	var args []any
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Slug != nil {
		s := strings.TrimSpace(*u.Slug)
		if s == "" {
			return fmt.Errorf("%w: slug", ErrEmptyField)
		}
		add("slug", s)
	}
	if u.Filename != nil {
		n := strings.TrimSpace(*u.Filename)
		if n == "" {
			return fmt.Errorf("%w: filename", ErrEmptyField)
		}
		add("filename", n)
	}
	if u.MimeType != nil {
		add("mimetype", *u.MimeType)
	}
	if u.Size != nil {
		size := *u.Size
		if size < 0 {
			size = 0
		}
		add("size", size)
	}
	if u.ETag != nil {
		add("etag", *u.ETag)
	}
	if u.CreatedBy != nil {
		add("created_by", *u.CreatedBy)
	}
	if u.Remark != nil {
		add("remark", *u.Remark)
	}
	if u.Password != nil {
		if *u.Password == "" {
			add("password", nil)
		} else {
			add("password", *u.Password)
		}
	}
	if u.ExpiresAt != nil {
		exp := *u.ExpiresAt
		if exp.IsZero() {
			exp = NeverExpires
		}
		add("expires_at", exp)
	}
	if u.MaxViews != nil {
		mv := *u.MaxViews
		if mv < 0 {
			mv = 0
		}
		add("max_views", mv)
	}
	if u.UseProxy != nil {
		add("use_proxy", *u.UseProxy)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE files SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("failed to update file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// Delete removes a file record. The password shadow row cascades.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// IncrementViews atomically bumps the view counter.
func (r *FileRepository) IncrementViews(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE files SET views = views + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SumSizeByConfig computes the live aggregate usage of a storage config.
// The commit-time quota check passes the ID of the record being
// committed so its placeholder row is excluded from the sum.
func (r *FileRepository) SumSizeByConfig(ctx context.Context, configID, excludeID string) (int64, error) {
	query := "SELECT COALESCE(SUM(size), 0) FROM files WHERE storage_config_id = $1"
	args := []any{configID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}

	var total int64
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum storage usage: %w", err)
	}
	return total, nil
}

// List returns file records ordered by creation time, newest first.
// An empty creator lists every record.
func (r *FileRepository) List(ctx context.Context, creator string, limit, offset int) ([]*FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + fileColumns + ` FROM files`
	args := []any{}
	if creator != "" {
		query += " WHERE created_by = $1"
		args = append(args, creator)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetExpired returns records whose expiry has passed or whose view
// budget is exhausted. The sweeper deletes both kinds.
func (r *FileRepository) GetExpired(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE expires_at < NOW() OR (max_views > 0 AND views >= max_views)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetStats returns aggregate gateway statistics.
func (r *FileRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > NOW()),
			COALESCE(SUM(views), 0),
			COALESCE(SUM(size), 0)
		FROM files
	`).Scan(
		&stats.TotalFiles,
		&stats.ActiveFiles,
		&stats.TotalViews,
		&stats.BytesStored,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// UpsertPassword writes the plaintext password shadow for a file. The
// shadow exists so the owner can read the password back; it is kept in
// lockstep with the bcrypt hash on the file row.
func (r *FileRepository) UpsertPassword(ctx context.Context, fileID, plain string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO file_passwords (file_id, plain_password, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (file_id) DO UPDATE
		SET plain_password = EXCLUDED.plain_password, updated_at = NOW()
	`, fileID, plain)
	if err != nil {
		return fmt.Errorf("failed to upsert file password: %w", err)
	}
	return nil
}

// GetPassword returns the plaintext password shadow, or "" when the
// file has none.
func (r *FileRepository) GetPassword(ctx context.Context, fileID string) (string, error) {
	var plain string
	err := r.db.Pool.QueryRow(ctx,
		"SELECT plain_password FROM file_passwords WHERE file_id = $1", fileID,
	).Scan(&plain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get file password: %w", err)
	}
	return plain, nil
}

// DeletePassword clears the password shadow without touching the file row.
func (r *FileRepository) DeletePassword(ctx context.Context, fileID string) error {
	_, err := r.db.Pool.Exec(ctx,
		"DELETE FROM file_passwords WHERE file_id = $1", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file password: %w", err)
	}
	return nil
}
