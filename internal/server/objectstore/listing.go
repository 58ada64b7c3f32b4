package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"wharf/internal/server/database"

	"github.com/minio/minio-go/v7"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name       string    `json:"name"`
	IsDir      bool      `json:"is_dir"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// List returns the immediate children under prefix, directories first.
// The prefix must be "" or end with a slash.
func (s *S3Store) List(ctx context.Context, cfg *database.StorageConfig, prefix string) ([]Entry, error) {
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for info := range client.ListObjects(ctx, cfg.BucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", cfg.BucketName, prefix, info.Err)
		}

		name := strings.TrimPrefix(info.Key, prefix)
		if name == "" {
			// The marker object of the listed directory itself.
			continue
		}

		if dir, ok := strings.CutSuffix(name, "/"); ok {
			entries = append(entries, Entry{
				Name:       dir,
				IsDir:      true,
				ModifiedAt: info.LastModified,
			})
			continue
		}
		entries = append(entries, Entry{
			Name:       name,
			Size:       info.Size,
			ModifiedAt: info.LastModified,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}
