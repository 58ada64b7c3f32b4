package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"wharf/internal/server/database"

	"github.com/minio/minio-go/v7"
)

// relayClient carries the plain HTTP PUTs of the presign-relay strategy.
var relayClient = &http.Client{Timeout: 5 * time.Minute}

// Upload writes body to cfg's bucket under key and returns the ETag
// reported by the store, quotes stripped. The strategy is selected by
// provider type:
//
//   - Backblaze B2 rejects some headers the SDK adds on its own, so the
//     transfer goes through a presigned URL with only content headers.
//   - Cloudflare R2 rejects the SDK's streaming-signature path, so the
//     put runs single-shot with a Content-MD5.
//   - Everything else takes the plain SDK put.
//
// The dispatcher never retries; retry policy belongs to the caller.
func (s *S3Store) Upload(ctx context.Context, cfg *database.StorageConfig, key string, body []byte, contentType string) (string, error) {
	switch cfg.ProviderType {
	case database.ProviderB2:
		return s.uploadViaPresign(ctx, cfg, key, body, contentType)
	case database.ProviderR2:
		return s.uploadSDK(ctx, cfg, key, body, minio.PutObjectOptions{
			ContentType:      contentType,
			DisableMultipart: true,
			SendContentMd5:   true,
		})
	default:
		return s.uploadSDK(ctx, cfg, key, body, minio.PutObjectOptions{
			ContentType: contentType,
		})
	}
}

func (s *S3Store) uploadSDK(ctx context.Context, cfg *database.StorageConfig, key string, body []byte, opts minio.PutObjectOptions) (string, error) {
	client, err := s.client(cfg)
	if err != nil {
		return "", err
	}

	info, err := client.PutObject(ctx, cfg.BucketName, key, bytes.NewReader(body), int64(len(body)), opts)
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", cfg.BucketName, key, err)
	}
	return strings.Trim(info.ETag, `"`), nil
}

func (s *S3Store) uploadViaPresign(ctx context.Context, cfg *database.StorageConfig, key string, body []byte, contentType string) (string, error) {
	uploadURL, err := s.PresignPut(ctx, cfg, key, contentType)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build relay request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)

	resp, err := relayClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay put %s/%s: %w", cfg.BucketName, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("relay put %s/%s: status %d: %s",
			cfg.BucketName, key, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// DetectContentType derives the content type from the filename. The
// caller-declared type is only consulted when the extension is unknown,
// and any charset suffix is stripped before reuse.
func DetectContentType(filename, declared string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); t != "" {
		return stripParams(t)
	}
	if declared != "" {
		return stripParams(declared)
	}
	return "application/octet-stream"
}

func stripParams(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
