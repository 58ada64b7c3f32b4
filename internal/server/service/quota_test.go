package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wharf/internal/server/database"
)

func seedFile(t *testing.T, env *testEnv, id, slug, configID string, size int64) {
	t.Helper()
	require.NoError(t, env.files.Create(context.Background(), &database.FileRecord{
		ID: id, Slug: slug, Filename: slug + ".bin", StorageConfigID: configID,
		Size: size, ExpiresAt: database.NeverExpires,
	}))
}

func TestAdmitWithoutCeiling(t *testing.T) {
	cfg := testStorageConfig("cfg-1")
	env := newTestEnv(cfg)
	seedFile(t, env, "f1", "big", "cfg-1", 1<<40)

	require.NoError(t, env.svc.admitWrite(context.Background(), cfg, 1<<40, ""))
}

func TestAdmitBoundary(t *testing.T) {
	ceiling := int64(100)
	cfg := testStorageConfig("cfg-1")
	cfg.TotalStorageBytes = &ceiling
	env := newTestEnv(cfg)
	seedFile(t, env, "f1", "used", "cfg-1", 60)

	ctx := context.Background()

	// usage + incoming == ceiling is still admitted.
	require.NoError(t, env.svc.admitWrite(ctx, cfg, 40, ""))

	err := env.svc.admitWrite(ctx, cfg, 41, "")
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, int64(41), capErr.Requested)
	require.Equal(t, int64(40), capErr.Remaining)
	require.Equal(t, int64(100), capErr.Total)
	require.Contains(t, err.Error(), "41 B")
	require.Contains(t, err.Error(), "40 B")
	require.Contains(t, err.Error(), "100 B")
}

func TestAdmitClampsNegativeHeadroom(t *testing.T) {
	ceiling := int64(50)
	cfg := testStorageConfig("cfg-1")
	cfg.TotalStorageBytes = &ceiling
	env := newTestEnv(cfg)
	seedFile(t, env, "f1", "over", "cfg-1", 80)

	err := env.svc.admitWrite(context.Background(), cfg, 1, "")
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, int64(0), capErr.Remaining)
}

func TestAdmitExcludesCommittingRecord(t *testing.T) {
	ceiling := int64(100)
	cfg := testStorageConfig("cfg-1")
	cfg.TotalStorageBytes = &ceiling
	env := newTestEnv(cfg)
	seedFile(t, env, "placeholder", "p", "cfg-1", 60)

	ctx := context.Background()

	// Without exclusion the committed size would double-count against
	// the placeholder's own row.
	err := env.svc.admitWrite(ctx, cfg, 100, "")
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)

	require.NoError(t, env.svc.admitWrite(ctx, cfg, 100, "placeholder"))
}
