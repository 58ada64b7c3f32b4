// Package storage runs the background maintenance of the backing
// stores, currently the expiry sweep that removes dead file records
// and their objects.
package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"wharf/internal/server/cache"
	"wharf/internal/server/database"
)

// FileSource lists and deletes sweepable file records.
type FileSource interface {
	GetExpired(ctx context.Context) ([]*database.FileRecord, error)
	Delete(ctx context.Context, id string) error
}

// ConfigSource resolves the storage config a record's object lives in.
type ConfigSource interface {
	GetConfig(ctx context.Context, id string) (*database.StorageConfig, error)
}

// ObjectRemover deletes backing objects.
type ObjectRemover interface {
	Remove(ctx context.Context, cfg *database.StorageConfig, key string) error
}

// sweepParallelism bounds concurrent object deletes per cycle.
const sweepParallelism = 4

// Sweeper periodically removes expired and view-exhausted files from
// both the metadata store and the backing object stores. The record
// delete cascades to the password shadow.
type Sweeper struct {
	files    FileSource
	configs  ConfigSource
	objects  ObjectRemover
	cache    *cache.DirCache
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a new sweeper.
func NewSweeper(files FileSource, configs ConfigSource, objects ObjectRemover, dirCache *cache.DirCache, interval time.Duration) *Sweeper {
	return &Sweeper{
		files:    files,
		configs:  configs,
		objects:  objects,
		cache:    dirCache,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.runSweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.runSweep(ctx)
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) runSweep(ctx context.Context) {
	expired, err := s.files.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired files", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	// Resolve each affected config once up front; a failed lookup
	// skips that config's records until the next cycle.
	configs := make(map[string]*database.StorageConfig)
	for _, f := range expired {
		if _, ok := configs[f.StorageConfigID]; ok {
			continue
		}
		cfg, err := s.configs.GetConfig(ctx, f.StorageConfigID)
		if err != nil {
			slog.Error("failed to load config for sweep", "config_id", f.StorageConfigID, "error", err)
			cfg = nil
		}
		configs[f.StorageConfigID] = cfg
	}

	var swept, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, f := range expired {
		f := f // per-iteration copy; required while go.mod targets go < 1.22
		g.Go(func() error {
			cfg := configs[f.StorageConfigID]
			if cfg == nil {
				failed.Add(1)
				return nil
			}

			// Keep the record if the object could not be removed, so
			// the next cycle retries instead of orphaning the object.
			if err := s.objects.Remove(gctx, cfg, f.StoragePath); err != nil {
				slog.Error("failed to remove expired object",
					"file_id", f.ID,
					"key", f.StoragePath,
					"error", err,
				)
				failed.Add(1)
				return nil
			}

			if err := s.files.Delete(gctx, f.ID); err != nil {
				slog.Error("failed to delete expired record", "file_id", f.ID, "error", err)
				failed.Add(1)
				return nil
			}

			swept.Add(1)
			slog.Info("swept expired file",
				"file_id", f.ID,
				"slug", f.Slug,
				"expired_at", f.ExpiresAt,
			)
			return nil
		})
	}
	g.Wait()

	// One invalidation per affected config, after the cycle's deletes.
	for id := range configs {
		s.cache.Invalidate(id)
	}

	slog.Info("sweep cycle complete",
		"swept", swept.Load(),
		"failed", failed.Load(),
		"total_expired", len(expired),
	)
}
