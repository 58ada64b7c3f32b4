package objectstore

import (
	"strings"

	"wharf/internal/server/database"
)

// NormalizeSubPath folds a mount-relative sub-path into the store's own
// prefix conventions: the config's default folder is the outermost
// prefix, the sub-path nests under it. The result is either empty or
// ends with a slash, ready to prepend to a key.
func NormalizeSubPath(cfg *database.StorageConfig, subPath string) string {
	folder := strings.Trim(cfg.DefaultFolder, "/")
	sub := strings.Trim(subPath, "/")

	parts := make([]string, 0, 2)
	if folder != "" {
		parts = append(parts, folder)
	}
	if sub != "" {
		parts = append(parts, sub)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

// BuildKey composes the final bucket-relative storage key from a
// normalized prefix, an optional caller-supplied directory and the
// filename component.
func BuildKey(prefix, customPath, filename string) string {
	key := prefix
	if dir := strings.Trim(customPath, "/"); dir != "" {
		key += dir + "/"
	}
	return key + strings.TrimPrefix(filename, "/")
}

// PublicURL returns the absolute store URL of a key: the config's
// custom host when set, otherwise derived from the endpoint using the
// config's addressing style.
func (s *S3Store) PublicURL(cfg *database.StorageConfig, key string) string {
	if cfg.CustomHost != "" {
		return strings.TrimSuffix(cfg.CustomHost, "/") + "/" + key
	}

	endpoint := strings.TrimSuffix(cfg.EndpointURL, "/")
	if cfg.PathStyle {
		return endpoint + "/" + cfg.BucketName + "/" + key
	}

	// Virtual-host style: the bucket becomes the leftmost host label.
	scheme, host, ok := strings.Cut(endpoint, "://")
	if !ok {
		return endpoint + "/" + cfg.BucketName + "/" + key
	}
	return scheme + "://" + cfg.BucketName + "." + host + "/" + key
}
