package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"wharf/internal/server/database"
)

// PresignPut returns a presigned PUT URL for key, valid for the
// config's signature lifetime.
func (s *S3Store) PresignPut(ctx context.Context, cfg *database.StorageConfig, key, contentType string) (string, error) {
	client, err := s.client(cfg)
	if err != nil {
		return "", err
	}

	u, err := client.PresignedPutObject(ctx, cfg.BucketName, key, signatureExpiry(cfg))
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", cfg.BucketName, key, err)
	}
	return u.String(), nil
}

// GetURLOptions shape the response headers a presigned GET URL forces
// on the store.
type GetURLOptions struct {
	Filename    string // overrides the download filename when set
	Attachment  bool   // attachment disposition instead of inline
	ContentType string
	EnableCache bool // allow intermediaries to cache for the URL's lifetime
}

// PresignGet returns a presigned GET URL for key with response-header
// overrides applied.
func (s *S3Store) PresignGet(ctx context.Context, cfg *database.StorageConfig, key string, opts GetURLOptions) (string, error) {
	client, err := s.client(cfg)
	if err != nil {
		return "", err
	}

	disposition := "inline"
	if opts.Attachment {
		disposition = "attachment"
	}
	if opts.Filename != "" {
		disposition = fmt.Sprintf("%s; filename=%q", disposition, opts.Filename)
	}

	params := url.Values{}
	params.Set("response-content-disposition", disposition)
	if opts.ContentType != "" {
		params.Set("response-content-type", opts.ContentType)
	}
	if opts.EnableCache {
		params.Set("response-cache-control", fmt.Sprintf("public, max-age=%d", cfg.SignatureExpiresIn))
	} else {
		params.Set("response-cache-control", "no-store")
	}

	u, err := client.PresignedGetObject(ctx, cfg.BucketName, key, signatureExpiry(cfg), params)
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", cfg.BucketName, key, err)
	}
	return u.String(), nil
}

func signatureExpiry(cfg *database.StorageConfig) time.Duration {
	if cfg.SignatureExpiresIn <= 0 {
		return time.Hour
	}
	return time.Duration(cfg.SignatureExpiresIn) * time.Second
}
