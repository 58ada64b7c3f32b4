package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

// FileDetail is the owner-facing view of a record. It includes the
// storage key, the raw store URL and the plaintext password from the
// shadow row; it is never served to anonymous download requests.
type FileDetail struct {
	FileResponse
	StoragePath string `json:"storage_path"`
	S3URL       string `json:"s3_url"`
	CreatedBy   string `json:"created_by"`
	Password    string `json:"password,omitempty"`
}

// FileStream is what the download endpoints serve from: either a
// redirect target or a byte stream proxied through the gateway.
type FileStream struct {
	Redirect string
	Body     io.ReadCloser
	Filename string
	MimeType string
	Size     int64
}

// GetFile returns the owner-facing detail of one record. Admins see
// every record; API keys only their own.
func (s *Service) GetFile(ctx context.Context, ident Identity, id string) (*FileDetail, error) {
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, &NotFoundError{What: "file"}
		}
		return nil, fmt.Errorf("failed to load file record: %w", err)
	}
	if !ident.IsAdmin() && rec.CreatedBy != ident.String() {
		return nil, &PermissionError{Reason: "file belongs to another creator"}
	}

	cfg, err := s.loadConfig(ctx, rec.StorageConfigID)
	if err != nil {
		return nil, err
	}

	detail := &FileDetail{
		FileResponse: s.fileResponse(ctx, rec, cfg),
		StoragePath:  rec.StoragePath,
		S3URL:        rec.S3URL,
		CreatedBy:    rec.CreatedBy,
	}
	if rec.Password != nil {
		plain, err := s.files.GetPassword(ctx, rec.ID)
		if err != nil {
			slog.Warn("failed to load password shadow", "file_id", rec.ID, "error", err)
		}
		detail.Password = plain
	}
	return detail, nil
}

// ListFiles returns records visible to the identity, newest first.
func (s *Service) ListFiles(ctx context.Context, ident Identity, limit, offset int) ([]FileResponse, error) {
	creator := ""
	if !ident.IsAdmin() {
		creator = ident.String()
	}

	recs, err := s.files.List(ctx, creator, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	configs := make(map[string]*database.StorageConfig)
	out := make([]FileResponse, 0, len(recs))
	for _, rec := range recs {
		cfg, ok := configs[rec.StorageConfigID]
		if !ok {
			cfg, err = s.storage.GetConfig(ctx, rec.StorageConfigID)
			if err != nil {
				slog.Warn("failed to load config for listed file", "file_id", rec.ID, "error", err)
				continue
			}
			configs[rec.StorageConfigID] = cfg
		}
		out = append(out, s.fileResponse(ctx, rec, cfg))
	}
	return out, nil
}

// DeleteFile removes a record and its backing object. The object
// delete is best-effort; the record delete cascades to the shadow.
func (s *Service) DeleteFile(ctx context.Context, ident Identity, id string) error {
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return &NotFoundError{What: "file"}
		}
		return fmt.Errorf("failed to load file record: %w", err)
	}
	if !ident.IsAdmin() && rec.CreatedBy != ident.String() {
		return &PermissionError{Reason: "file belongs to another creator"}
	}

	if cfg, err := s.storage.GetConfig(ctx, rec.StorageConfigID); err != nil {
		slog.Warn("failed to load config for deleted file", "file_id", rec.ID, "error", err)
	} else if err := s.objects.Remove(ctx, cfg, rec.StoragePath); err != nil {
		slog.Warn("failed to remove object", "key", rec.StoragePath, "error", err)
	}

	if err := s.files.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	s.cache.Invalidate(rec.StorageConfigID)

	slog.Info("file deleted", "file_id", rec.ID, "slug", rec.Slug)
	return nil
}

// OpenFile resolves a public slug for serving: it checks expiry,
// password and the view limit, counts the view, and yields either a
// proxied byte stream or a presigned redirect target.
func (s *Service) OpenFile(ctx context.Context, slug, password string, attachment bool) (*FileStream, error) {
	rec, err := s.files.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to load file record: %w", err)
	}
	if rec == nil {
		return nil, &NotFoundError{What: "file"}
	}

	if !database.IsNever(rec.ExpiresAt) && time.Now().After(rec.ExpiresAt) {
		return nil, ErrExpired
	}
	if rec.Password != nil {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*rec.Password), []byte(password)); err != nil {
			return nil, ErrInvalidPassword
		}
	}
	if rec.MaxViews > 0 && rec.Views >= rec.MaxViews {
		return nil, ErrViewsExhausted
	}

	if err := s.files.IncrementViews(ctx, rec.ID); err != nil {
		slog.Warn("failed to increment views", "file_id", rec.ID, "error", err)
	}

	cfg, err := s.loadConfig(ctx, rec.StorageConfigID)
	if err != nil {
		return nil, err
	}

	stream := &FileStream{
		Filename: rec.Filename,
		MimeType: rec.MimeType,
		Size:     rec.Size,
	}
	if rec.UseProxy {
		body, err := s.objects.Fetch(ctx, cfg, rec.StoragePath)
		if err != nil {
			return nil, &TransferError{Op: "fetch", Err: err}
		}
		stream.Body = body
		return stream, nil
	}

	target, err := s.objects.PresignGet(ctx, cfg, rec.StoragePath, objectstore.GetURLOptions{
		Filename:    rec.Filename,
		Attachment:  attachment,
		ContentType: rec.MimeType,
		EnableCache: true,
	})
	if err != nil {
		return nil, &TransferError{Op: "presign", Err: err}
	}
	stream.Redirect = target
	return stream, nil
}

// Stats returns aggregate gateway statistics.
func (s *Service) Stats(ctx context.Context) (*database.Stats, error) {
	return s.files.GetStats(ctx)
}
