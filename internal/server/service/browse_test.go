package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

func TestBrowseResolvesMount(t *testing.T) {
	cfg := testStorageConfig("cfg-1")
	env := newTestEnv(cfg)
	env.storage.mounts = []database.MountWithConfig{mountAt("/team", "cfg-1")}
	env.objects.listing = []objectstore.Entry{
		{Name: "reports", IsDir: true},
		{Name: "notes.txt", Size: 12, ModifiedAt: time.Now()},
	}

	ident := fileKeyIdent("key-1")
	ident.BasicPath = "/team"

	listing, err := env.svc.Browse(context.Background(), ident, "/team/docs")
	require.NoError(t, err)
	require.Equal(t, "/team/docs", listing.Path)
	require.Len(t, listing.Entries, 2)

	// The sub-path below the mount becomes the object prefix.
	require.Equal(t, []string{"docs/"}, env.objects.listPrefixes)

	// A second browse of the same path is served from the cache.
	_, err = env.svc.Browse(context.Background(), ident, "/team/docs")
	require.NoError(t, err)
	require.Len(t, env.objects.listPrefixes, 1)
}

func TestBrowseLongestMountWins(t *testing.T) {
	env := newTestEnv(testStorageConfig("cfg-1"), testStorageConfig("cfg-2"))
	env.storage.mounts = []database.MountWithConfig{
		mountAt("/a", "cfg-1"),
		mountAt("/a/b", "cfg-2"),
	}

	_, err := env.svc.Browse(context.Background(), AdminIdentity("root"), "/a/b/c")
	require.NoError(t, err)

	// Resolved against /a/b, not /a.
	require.Equal(t, []string{"c/"}, env.objects.listPrefixes)
}

func TestBrowseCacheInvalidatedByUpload(t *testing.T) {
	cfg := testStorageConfig("cfg-1")
	env := newTestEnv(cfg)
	env.storage.mounts = []database.MountWithConfig{rootMount("cfg-1")}
	ident := fileKeyIdent("key-1")
	ctx := context.Background()

	_, err := env.svc.Browse(ctx, ident, "/")
	require.NoError(t, err)
	require.Len(t, env.objects.listPrefixes, 1)

	uploadFixture(t, env, ident, directRequest("new.txt", []byte("new")))

	// The upload dropped the cached listing, so the next browse hits
	// the store again.
	_, err = env.svc.Browse(ctx, ident, "/")
	require.NoError(t, err)
	require.Len(t, env.objects.listPrefixes, 2)
}

func TestBrowseOutsideBasicPath(t *testing.T) {
	env := newTestEnv(testStorageConfig("cfg-1"))
	env.storage.mounts = []database.MountWithConfig{mountAt("/team", "cfg-1")}

	ident := fileKeyIdent("key-1")
	ident.BasicPath = "/team/docs"

	_, err := env.svc.Browse(context.Background(), ident, "/team")
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestBrowseNoMount(t *testing.T) {
	env := newTestEnv(testStorageConfig("cfg-1"))
	env.storage.mounts = []database.MountWithConfig{mountAt("/team", "cfg-1")}

	_, err := env.svc.Browse(context.Background(), AdminIdentity("root"), "/elsewhere")
	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestBrowseRequiresMountPermission(t *testing.T) {
	env := newTestEnv(testStorageConfig("cfg-1"))
	env.storage.mounts = []database.MountWithConfig{rootMount("cfg-1")}

	ident := fileKeyIdent("key-1")
	ident.MountPerm = false

	_, err := env.svc.Browse(context.Background(), ident, "/")
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestBrowseRejectsTraversal(t *testing.T) {
	env := newTestEnv(testStorageConfig("cfg-1"))
	env.storage.mounts = []database.MountWithConfig{rootMount("cfg-1")}

	_, err := env.svc.Browse(context.Background(), fileKeyIdent("key-1"), "/team/../secrets")
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}
