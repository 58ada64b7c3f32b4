// Package objectstore is the boundary between the gateway and the
// S3-compatible stores it fronts. One minio client is built per storage
// config from its sealed credentials and cached until the config row
// changes.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"wharf/internal/server/crypto"
	"wharf/internal/server/database"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store talks to every configured backing store through cached minio
// clients.
type S3Store struct {
	secret string

	mu      sync.Mutex
	clients map[string]cachedClient
}

type cachedClient struct {
	client    *minio.Client
	updatedAt time.Time
}

// New creates an S3Store that opens sealed credentials with secret.
func New(secret string) *S3Store {
	return &S3Store{
		secret:  secret,
		clients: make(map[string]cachedClient),
	}
}

// client returns the cached minio client for cfg, rebuilding it when the
// config row has been updated since the client was made.
func (s *S3Store) client(cfg *database.StorageConfig) (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.clients[cfg.ID]; ok && entry.updatedAt.Equal(cfg.UpdatedAt) {
		return entry.client, nil
	}

	accessKey, err := crypto.Open(cfg.AccessKeyID, s.secret)
	if err != nil {
		return nil, fmt.Errorf("open access key for config %s: %w", cfg.ID, err)
	}
	secretKey, err := crypto.Open(cfg.SecretAccessKey, s.secret)
	if err != nil {
		return nil, fmt.Errorf("open secret key for config %s: %w", cfg.ID, err)
	}

	endpoint, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", cfg.EndpointURL, err)
	}

	lookup := minio.BucketLookupDNS
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       endpoint.Scheme != "http",
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client for config %s: %w", cfg.ID, err)
	}

	s.clients[cfg.ID] = cachedClient{client: client, updatedAt: cfg.UpdatedAt}
	return client, nil
}

// Remove deletes an object. Removing a missing key is not an error.
func (s *S3Store) Remove(ctx context.Context, cfg *database.StorageConfig, key string) error {
	client, err := s.client(cfg)
	if err != nil {
		return err
	}
	if err := client.RemoveObject(ctx, cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", cfg.BucketName, key, err)
	}
	return nil
}

// Fetch opens an object for streaming through the gateway. The caller
// must close the returned reader.
func (s *S3Store) Fetch(ctx context.Context, cfg *database.StorageConfig, key string) (io.ReadCloser, error) {
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	obj, err := client.GetObject(ctx, cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", cfg.BucketName, key, err)
	}

	// GetObject is lazy; Stat forces the request so a missing object
	// surfaces here instead of on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat %s/%s: %w", cfg.BucketName, key, err)
	}
	return obj, nil
}
