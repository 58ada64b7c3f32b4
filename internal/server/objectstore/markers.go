package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"wharf/internal/server/database"

	"github.com/minio/minio-go/v7"
)

const dirMarkerType = "application/x-directory"

// TouchAncestors upserts the zero-byte directory marker of every
// ancestor of key so directory modification times advance with their
// contents. All ancestors are attempted even when one fails; the first
// error is returned.
func (s *S3Store) TouchAncestors(ctx context.Context, cfg *database.StorageConfig, key string) error {
	dirs := ancestorDirs(key)
	if len(dirs) == 0 {
		return nil
	}

	client, err := s.client(cfg)
	if err != nil {
		return err
	}

	var firstErr error
	for _, dir := range dirs {
		_, err := client.PutObject(ctx, cfg.BucketName, dir, bytes.NewReader(nil), 0,
			minio.PutObjectOptions{ContentType: dirMarkerType})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("touch %s/%s: %w", cfg.BucketName, dir, err)
		}
	}
	return firstErr
}

// ancestorDirs lists every ancestor directory marker of key, outermost
// first: "a/b/c.txt" yields ["a/", "a/b/"].
func ancestorDirs(key string) []string {
	key = strings.TrimPrefix(key, "/")
	segments := strings.Split(key, "/")
	if len(segments) < 2 {
		return nil
	}

	dirs := make([]string, 0, len(segments)-1)
	prefix := ""
	for _, seg := range segments[:len(segments)-1] {
		if seg == "" {
			continue
		}
		prefix += seg + "/"
		dirs = append(dirs, prefix)
	}
	return dirs
}
