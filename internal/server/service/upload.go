// Package service contains the upload orchestration core: path and
// permission resolution, slug allocation, quota admission, the two
// upload protocols and the read/delete paths built on top of them.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wharf/internal/server/cache"
	"wharf/internal/server/config"
	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

// FileStore is the metadata-record boundary the service depends on.
type FileStore interface {
	Create(ctx context.Context, f *database.FileRecord) error
	GetByID(ctx context.Context, id string) (*database.FileRecord, error)
	GetBySlug(ctx context.Context, slug string) (*database.FileRecord, error)
	Update(ctx context.Context, id string, u database.FileUpdate) error
	Delete(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) error
	SumSizeByConfig(ctx context.Context, configID, excludeID string) (int64, error)
	List(ctx context.Context, creator string, limit, offset int) ([]*database.FileRecord, error)
	GetStats(ctx context.Context) (*database.Stats, error)
	UpsertPassword(ctx context.Context, fileID, plain string) error
	GetPassword(ctx context.Context, fileID string) (string, error)
	DeletePassword(ctx context.Context, fileID string) error
}

// StorageStore resolves storage configs and mounts.
type StorageStore interface {
	GetConfig(ctx context.Context, id string) (*database.StorageConfig, error)
	DefaultConfig(ctx context.Context, adminID string) (*database.StorageConfig, error)
	ActiveMounts(ctx context.Context) ([]database.MountWithConfig, error)
}

// SettingsStore exposes the tunable gateway settings.
type SettingsStore interface {
	MaxUploadBytes(ctx context.Context) (int64, error)
}

// ObjectStore is the object-store boundary: transfers, presigned URLs,
// deletes and listings against a storage config's backing bucket.
type ObjectStore interface {
	Upload(ctx context.Context, cfg *database.StorageConfig, key string, body []byte, contentType string) (string, error)
	PresignPut(ctx context.Context, cfg *database.StorageConfig, key, contentType string) (string, error)
	PresignGet(ctx context.Context, cfg *database.StorageConfig, key string, opts objectstore.GetURLOptions) (string, error)
	Remove(ctx context.Context, cfg *database.StorageConfig, key string) error
	Fetch(ctx context.Context, cfg *database.StorageConfig, key string) (io.ReadCloser, error)
	PublicURL(cfg *database.StorageConfig, key string) string
	TouchAncestors(ctx context.Context, cfg *database.StorageConfig, key string) error
	List(ctx context.Context, cfg *database.StorageConfig, prefix string) ([]objectstore.Entry, error)
}

// Service wires the upload orchestration core together.
type Service struct {
	files    FileStore
	storage  StorageStore
	settings SettingsStore
	objects  ObjectStore
	cache    *cache.DirCache
	cfg      *config.Config
}

// New creates the service.
func New(files FileStore, storage StorageStore, settings SettingsStore, objects ObjectStore, dirCache *cache.DirCache, cfg *config.Config) *Service {
	return &Service{
		files:    files,
		storage:  storage,
		settings: settings,
		objects:  objects,
		cache:    dirCache,
		cfg:      cfg,
	}
}

// PresignRequest is the body of POST /api/s3/presign.
type PresignRequest struct {
	ConfigID string `json:"s3_config_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Path     string `json:"path"`
	Slug     string `json:"slug"`
	Override bool   `json:"override"`
}

// PresignResult is handed back to the caller, who PUTs the bytes to
// UploadURL and then commits against FileID.
type PresignResult struct {
	FileID       string `json:"file_id"`
	UploadURL    string `json:"upload_url"`
	StoragePath  string `json:"storage_path"`
	S3URL        string `json:"s3_url"`
	Slug         string `json:"slug"`
	ProviderType string `json:"provider_type"`
	ContentType  string `json:"contentType"`
}

// CommitRequest is the body of POST /api/s3/commit. ExpiresIn is in
// hours; zero or absent means the file never expires.
type CommitRequest struct {
	FileID    string `json:"file_id"`
	ETag      string `json:"etag"`
	Size      int64  `json:"size"`
	Password  string `json:"password"`
	ExpiresIn int    `json:"expires_in"`
	Remark    string `json:"remark"`
	MaxViews  int    `json:"max_views"`
}

// DirectUploadRequest carries one direct upload: the raw body plus the
// query-parameter surface of PUT /api/upload-direct/:filename.
type DirectUploadRequest struct {
	Filename     string
	Body         []byte
	DeclaredType string
	ConfigID     string
	Slug         string
	Path         string
	Remark       string
	Password     string
	ExpiresIn    int
	MaxViews     int
	Override     bool
	OriginalName bool
	UseProxy     bool
}

// FileResponse is the outward shape of a file record. The expiry
// sentinel renders as null, max views of zero renders as null, and the
// password never leaves as more than a boolean.
type FileResponse struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Filename    string     `json:"filename"`
	MimeType    string     `json:"mimetype"`
	Size        int64      `json:"size"`
	ETag        string     `json:"etag,omitempty"`
	Remark      string     `json:"remark,omitempty"`
	HasPassword bool       `json:"has_password"`
	ExpiresAt   *time.Time `json:"expires_at"`
	MaxViews    *int       `json:"max_views"`
	Views       int        `json:"views"`
	UseProxy    bool       `json:"use_proxy"`
	CreatedAt   time.Time  `json:"created_at"`
	URL         string     `json:"url"`
	ProxyURL    string     `json:"proxy_url"`
	DirectURL   string     `json:"direct_url,omitempty"`
}

// UploadResult is returned by the direct flow: the record plus the
// preview and download URLs, chosen by the record's proxy flag.
type UploadResult struct {
	FileResponse
	PreviewURL  string `json:"preview_url"`
	DownloadURL string `json:"download_url"`
}

// Presign validates upload intent, inserts a placeholder record and
// hands the caller a presigned PUT URL to transfer the bytes against.
func (s *Service) Presign(ctx context.Context, ident Identity, req PresignRequest) (*PresignResult, error) {
	name := sanitizeName(req.Filename)
	if name == "" {
		return nil, &ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if req.ConfigID == "" {
		return nil, &ValidationError{Field: "s3_config_id", Reason: "must not be empty"}
	}
	if req.Size < 0 {
		return nil, &ValidationError{Field: "size", Reason: "must not be negative"}
	}

	cfg, err := s.loadConfig(ctx, req.ConfigID)
	if err != nil {
		return nil, err
	}

	maxBytes, err := s.settings.MaxUploadBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read max upload size: %w", err)
	}
	if req.Size > maxBytes {
		return nil, ErrTooLarge
	}

	prefix, err := s.resolveWritePrefix(ctx, ident, cfg)
	if err != nil {
		return nil, err
	}
	customPath, err := cleanCustomPath(req.Path)
	if err != nil {
		return nil, err
	}

	slug, err := s.allocateSlug(ctx, req.Slug, req.Override)
	if err != nil {
		return nil, err
	}
	if req.Override && req.Slug != "" {
		if err := s.replacePrior(ctx, ident, slug); err != nil {
			return nil, err
		}
	}

	// Intent-time admission with the declared size. The authoritative
	// check runs again at commit with the confirmed size.
	if err := s.admitWrite(ctx, cfg, req.Size, ""); err != nil {
		return nil, err
	}

	contentType := objectstore.DetectContentType(name, "")
	key := objectstore.BuildKey(prefix, customPath, name)

	rec := &database.FileRecord{
		ID:              uuid.NewString(),
		Slug:            slug,
		Filename:        name,
		StoragePath:     key,
		S3URL:           s.objects.PublicURL(cfg, key),
		StorageConfigID: cfg.ID,
		MimeType:        contentType,
		CreatedBy:       ident.String(),
		ExpiresAt:       database.NeverExpires,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		if errors.Is(err, database.ErrDuplicateSlug) {
			return nil, &ConflictError{Slug: slug}
		}
		return nil, fmt.Errorf("failed to create placeholder record: %w", err)
	}

	uploadURL, err := s.objects.PresignPut(ctx, cfg, key, contentType)
	if err != nil {
		if derr := s.files.Delete(ctx, rec.ID); derr != nil {
			slog.Warn("failed to delete placeholder after presign failure", "file_id", rec.ID, "error", derr)
		}
		return nil, &TransferError{Op: "presign", Err: err}
	}

	slog.Info("upload presigned",
		"file_id", rec.ID,
		"slug", slug,
		"key", key,
		"provider", cfg.ProviderType,
	)

	return &PresignResult{
		FileID:       rec.ID,
		UploadURL:    uploadURL,
		StoragePath:  key,
		S3URL:        rec.S3URL,
		Slug:         slug,
		ProviderType: cfg.ProviderType,
		ContentType:  contentType,
	}, nil
}

// Commit finalizes a presigned upload, turning the placeholder into the
// authoritative record with the caller-reported size and metadata.
func (s *Service) Commit(ctx context.Context, ident Identity, req CommitRequest) (*FileResponse, error) {
	if req.FileID == "" {
		return nil, &ValidationError{Field: "file_id", Reason: "must not be empty"}
	}
	if req.Size < 0 {
		return nil, &ValidationError{Field: "size", Reason: "must not be negative"}
	}
	if req.MaxViews < 0 {
		return nil, &ValidationError{Field: "max_views", Reason: "must not be negative"}
	}
	expiry, err := expiryFromHours(req.ExpiresIn)
	if err != nil {
		return nil, err
	}

	rec, err := s.files.GetByID(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, &NotFoundError{What: "file"}
		}
		return nil, fmt.Errorf("failed to load file record: %w", err)
	}
	if rec.CreatedBy != "" && rec.CreatedBy != ident.String() {
		return nil, &PermissionError{Reason: "file belongs to another creator"}
	}

	cfg, err := s.loadConfig(ctx, rec.StorageConfigID)
	if err != nil {
		return nil, err
	}

	// Authoritative admission with the confirmed size, excluding the
	// placeholder's own row. Rejection deletes the uploaded object and
	// the placeholder; compensation failures are logged, not retried.
	if err := s.admitWrite(ctx, cfg, req.Size, rec.ID); err != nil {
		var capErr *CapacityError
		if errors.As(err, &capErr) {
			if rerr := s.objects.Remove(ctx, cfg, rec.StoragePath); rerr != nil {
				slog.Warn("failed to remove object after quota rejection", "key", rec.StoragePath, "error", rerr)
			}
			if derr := s.files.Delete(ctx, rec.ID); derr != nil {
				slog.Warn("failed to delete placeholder after quota rejection", "file_id", rec.ID, "error", derr)
			}
			s.cache.Invalidate(cfg.ID)
		}
		return nil, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	creator := ident.String()
	upd := database.FileUpdate{
		Size:      &req.Size,
		CreatedBy: &creator,
		Remark:    &req.Remark,
		Password:  passwordHash,
		ExpiresAt: &expiry,
		MaxViews:  &req.MaxViews,
	}
	if req.ETag != "" {
		upd.ETag = &req.ETag
	}
	if err := s.files.Update(ctx, rec.ID, upd); err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, &NotFoundError{What: "file"}
		}
		return nil, fmt.Errorf("failed to commit file record: %w", err)
	}
	if req.Password != "" {
		if err := s.files.UpsertPassword(ctx, rec.ID, req.Password); err != nil {
			return nil, fmt.Errorf("failed to store password shadow: %w", err)
		}
	}

	if err := s.objects.TouchAncestors(ctx, cfg, rec.StoragePath); err != nil {
		slog.Warn("failed to touch ancestor directories", "key", rec.StoragePath, "error", err)
	}
	s.cache.Invalidate(cfg.ID)

	committed, err := s.files.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload committed record: %w", err)
	}

	slog.Info("upload committed",
		"file_id", committed.ID,
		"slug", committed.Slug,
		"size", committed.Size,
	)

	resp := s.fileResponse(ctx, committed, cfg)
	return &resp, nil
}

// UploadDirect performs resolution, admission, transfer and record
// insertion within a single request.
func (s *Service) UploadDirect(ctx context.Context, ident Identity, req DirectUploadRequest) (*UploadResult, error) {
	name := sanitizeName(req.Filename)
	if name == "" {
		return nil, &ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if req.MaxViews < 0 {
		return nil, &ValidationError{Field: "max_views", Reason: "must not be negative"}
	}
	expiry, err := expiryFromHours(req.ExpiresIn)
	if err != nil {
		return nil, err
	}

	var cfg *database.StorageConfig
	if req.ConfigID != "" {
		cfg, err = s.loadConfig(ctx, req.ConfigID)
	} else {
		cfg, err = s.defaultConfig(ctx, ident)
	}
	if err != nil {
		return nil, err
	}

	size := int64(len(req.Body))
	maxBytes, err := s.settings.MaxUploadBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read max upload size: %w", err)
	}
	if size > maxBytes {
		return nil, ErrTooLarge
	}

	prefix, err := s.resolveWritePrefix(ctx, ident, cfg)
	if err != nil {
		return nil, err
	}
	customPath, err := cleanCustomPath(req.Path)
	if err != nil {
		return nil, err
	}

	slug, err := s.allocateSlug(ctx, req.Slug, req.Override)
	if err != nil {
		return nil, err
	}
	if req.Override && req.Slug != "" {
		if err := s.replacePrior(ctx, ident, slug); err != nil {
			return nil, err
		}
	}

	if err := s.admitWrite(ctx, cfg, size, ""); err != nil {
		return nil, err
	}

	contentType := objectstore.DetectContentType(name, req.DeclaredType)

	// The display name is always the original; the storage key uses it
	// only when the caller asked to keep it.
	storedName := name
	if !req.OriginalName {
		id, err := randomID(8)
		if err != nil {
			return nil, err
		}
		storedName = id + strings.ToLower(path.Ext(name))
	}
	key := objectstore.BuildKey(prefix, customPath, storedName)

	etag, err := s.objects.Upload(ctx, cfg, key, req.Body, contentType)
	if err != nil {
		return nil, &TransferError{Op: "upload", Err: err}
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		if rerr := s.objects.Remove(ctx, cfg, key); rerr != nil {
			slog.Warn("failed to remove object after hash failure", "key", key, "error", rerr)
		}
		return nil, err
	}

	rec := &database.FileRecord{
		ID:              uuid.NewString(),
		Slug:            slug,
		Filename:        name,
		StoragePath:     key,
		S3URL:           s.objects.PublicURL(cfg, key),
		StorageConfigID: cfg.ID,
		MimeType:        contentType,
		Size:            size,
		CreatedBy:       ident.String(),
		Remark:          req.Remark,
		Password:        passwordHash,
		ExpiresAt:       expiry,
		MaxViews:        req.MaxViews,
		UseProxy:        req.UseProxy,
	}
	if etag != "" {
		rec.ETag = &etag
	}

	if err := s.files.Create(ctx, rec); err != nil {
		if rerr := s.objects.Remove(ctx, cfg, key); rerr != nil {
			slog.Warn("failed to remove object after insert failure", "key", key, "error", rerr)
		}
		if errors.Is(err, database.ErrDuplicateSlug) {
			return nil, &ConflictError{Slug: slug}
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}
	if req.Password != "" {
		if err := s.files.UpsertPassword(ctx, rec.ID, req.Password); err != nil {
			return nil, fmt.Errorf("failed to store password shadow: %w", err)
		}
	}

	if err := s.objects.TouchAncestors(ctx, cfg, key); err != nil {
		slog.Warn("failed to touch ancestor directories", "key", key, "error", err)
	}
	s.cache.Invalidate(cfg.ID)

	slog.Info("file uploaded",
		"file_id", rec.ID,
		"slug", slug,
		"key", key,
		"size", size,
		"mimetype", contentType,
		"creator", rec.CreatedBy,
	)

	return s.uploadResult(ctx, rec, cfg), nil
}

// replacePrior removes a slug's existing record and backing object
// ahead of an override upload. Ownership is enforced strictly; cleanup
// failures after that are logged and swallowed, with the slug unique
// index backstopping a record that could not be deleted.
func (s *Service) replacePrior(ctx context.Context, ident Identity, slug string) error {
	prior, err := s.files.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to look up slug %q: %w", slug, err)
	}
	if prior == nil {
		return nil
	}
	if prior.CreatedBy != "" && prior.CreatedBy != ident.String() {
		return &PermissionError{Reason: "slug belongs to another creator"}
	}

	if cfg, err := s.storage.GetConfig(ctx, prior.StorageConfigID); err != nil {
		slog.Warn("failed to load config of replaced file", "file_id", prior.ID, "error", err)
	} else if err := s.objects.Remove(ctx, cfg, prior.StoragePath); err != nil {
		slog.Warn("failed to remove replaced object", "key", prior.StoragePath, "error", err)
	}

	// The record delete cascades to the password shadow.
	if err := s.files.Delete(ctx, prior.ID); err != nil {
		slog.Warn("failed to delete replaced file record", "file_id", prior.ID, "error", err)
	} else {
		s.cache.Invalidate(prior.StorageConfigID)
	}
	return nil
}

func (s *Service) loadConfig(ctx context.Context, id string) (*database.StorageConfig, error) {
	cfg, err := s.storage.GetConfig(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrConfigNotFound) {
			return nil, &NotFoundError{What: "storage config"}
		}
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}
	return cfg, nil
}

// defaultConfig picks the storage config for requests that name none:
// the admin's own default, falling back to the public default.
func (s *Service) defaultConfig(ctx context.Context, ident Identity) (*database.StorageConfig, error) {
	adminID := ""
	if ident.IsAdmin() {
		adminID = ident.ID
	}
	cfg, err := s.storage.DefaultConfig(ctx, adminID)
	if err != nil {
		if errors.Is(err, database.ErrConfigNotFound) {
			return nil, &NotFoundError{What: "storage config"}
		}
		return nil, fmt.Errorf("failed to load default storage config: %w", err)
	}
	return cfg, nil
}

// fileResponse renders a record for API responses, presigning the
// direct URL best-effort.
func (s *Service) fileResponse(ctx context.Context, rec *database.FileRecord, cfg *database.StorageConfig) FileResponse {
	proxyView := s.cfg.BaseURL + "/api/file-view/" + rec.Slug

	direct, err := s.objects.PresignGet(ctx, cfg, rec.StoragePath, objectstore.GetURLOptions{
		Filename:    rec.Filename,
		ContentType: rec.MimeType,
		EnableCache: true,
	})
	if err != nil {
		slog.Warn("failed to presign direct url", "file_id", rec.ID, "error", err)
	}

	resp := FileResponse{
		ID:          rec.ID,
		Slug:        rec.Slug,
		Filename:    rec.Filename,
		MimeType:    rec.MimeType,
		Size:        rec.Size,
		Remark:      rec.Remark,
		HasPassword: rec.Password != nil,
		ExpiresAt:   exportExpiry(rec.ExpiresAt),
		MaxViews:    exportViews(rec.MaxViews),
		Views:       rec.Views,
		UseProxy:    rec.UseProxy,
		CreatedAt:   rec.CreatedAt,
		ProxyURL:    proxyView,
		DirectURL:   direct,
	}
	if rec.ETag != nil {
		resp.ETag = *rec.ETag
	}
	if rec.UseProxy || direct == "" {
		resp.URL = proxyView
	} else {
		resp.URL = direct
	}
	return resp
}

func (s *Service) uploadResult(ctx context.Context, rec *database.FileRecord, cfg *database.StorageConfig) *UploadResult {
	resp := s.fileResponse(ctx, rec, cfg)
	res := &UploadResult{FileResponse: resp}

	proxyDownload := s.cfg.BaseURL + "/api/file-download/" + rec.Slug
	if rec.UseProxy {
		res.PreviewURL = resp.ProxyURL
		res.DownloadURL = proxyDownload
		return res
	}

	download, err := s.objects.PresignGet(ctx, cfg, rec.StoragePath, objectstore.GetURLOptions{
		Filename:    rec.Filename,
		Attachment:  true,
		ContentType: rec.MimeType,
		EnableCache: true,
	})
	if err != nil {
		slog.Warn("failed to presign download url", "file_id", rec.ID, "error", err)
		download = proxyDownload
	}
	res.PreviewURL = resp.URL
	res.DownloadURL = download
	return res
}

// --- Helpers ---

// sanitizeName strips directory components and limits length. An empty
// result means the input had no usable filename component.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > 255 {
		ext := path.Ext(name)
		name = name[:255-len(ext)] + ext
	}
	return name
}

// cleanCustomPath normalizes the caller-supplied directory component.
func cleanCustomPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.Contains(p, "..") {
		return "", &ValidationError{Field: "path", Reason: "must not contain .."}
	}
	return strings.Trim(p, "/"), nil
}

// expiryFromHours maps the expires_in request field to a timestamp.
// Zero means never, stored as the sentinel.
func expiryFromHours(hours int) (time.Time, error) {
	if hours < 0 {
		return time.Time{}, &ValidationError{Field: "expires_in", Reason: "must not be negative"}
	}
	if hours == 0 {
		return database.NeverExpires, nil
	}
	return time.Now().UTC().Add(time.Duration(hours) * time.Hour), nil
}

func exportExpiry(t time.Time) *time.Time {
	if database.IsNever(t) {
		return nil
	}
	u := t.UTC()
	return &u
}

func exportViews(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func hashPassword(plain string) (*string, error) {
	if plain == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	h := string(hash)
	return &h, nil
}
