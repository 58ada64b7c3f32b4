package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"wharf/internal/server/database"
	"wharf/internal/server/service"
)

type fakeKeys struct {
	keys    map[string]*database.APIKey
	touched []string
}

func (f *fakeKeys) GetByKey(_ context.Context, key string) (*database.APIKey, error) {
	k, ok := f.keys[key]
	if !ok {
		return nil, database.ErrKeyNotFound
	}
	return k, nil
}

func (f *fakeKeys) TouchLastUsed(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

// runAuth sends one request through Auth into a probe handler that
// reports the resolved identity.
func runAuth(t *testing.T, keys KeyStore, adminToken, header string) (*httptest.ResponseRecorder, *service.Identity) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got *service.Identity
	handler := Auth(keys, adminToken)(func(c echo.Context) error {
		ident := identityFrom(c)
		got = &ident
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec, got
}

func TestAuthMissingHeader(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "hunter2", "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
}

func TestAuthAdminToken(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "hunter2", "Bearer hunter2")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ident)
	require.True(t, ident.IsAdmin())
	require.Equal(t, "admin:root", ident.String())
}

func TestAuthAdminTokenWrong(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "hunter2", "Bearer guessed")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
}

func TestAuthAdminDisabledWhenTokenUnset(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "", "Bearer anything")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
}

func TestAuthAPIKey(t *testing.T) {
	keys := &fakeKeys{keys: map[string]*database.APIKey{
		"sk-alpha": {
			ID:              "key-1",
			Key:             "sk-alpha",
			BasicPath:       "/team/docs",
			FilePermission:  true,
			MountPermission: true,
			ExpiresAt:       database.NeverExpires,
		},
	}}

	rec, ident := runAuth(t, keys, "hunter2", "ApiKey sk-alpha")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ident)
	require.Equal(t, service.KindAPIKey, ident.Kind)
	require.Equal(t, "key-1", ident.ID)
	require.Equal(t, "/team/docs", ident.BasicPath)
	require.True(t, ident.FilePerm)
	require.True(t, ident.MountPerm)
	require.False(t, ident.TextPerm)
	require.Equal(t, []string{"key-1"}, keys.touched)
}

func TestAuthAPIKeyUnknown(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "hunter2", "ApiKey sk-nope")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
}

func TestAuthAPIKeyExpired(t *testing.T) {
	keys := &fakeKeys{keys: map[string]*database.APIKey{
		"sk-old": {
			ID:             "key-2",
			Key:            "sk-old",
			FilePermission: true,
			ExpiresAt:      time.Now().Add(-time.Hour),
		},
	}}

	rec, ident := runAuth(t, keys, "", "ApiKey sk-old")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
	require.Empty(t, keys.touched)
}

func TestAuthUnsupportedScheme(t *testing.T) {
	rec, ident := runAuth(t, &fakeKeys{}, "hunter2", "Basic dXNlcjpwYXNz")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, ident)
}

// runGuard sends one request through a capability guard with the given
// identity already resolved.
func runGuard(t *testing.T, guard echo.MiddlewareFunc, ident service.Identity) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(identityKey, ident)

	handler := guard(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec
}

func TestRequireFile(t *testing.T) {
	admin := service.AdminIdentity("root")
	withPerm := service.Identity{Kind: service.KindAPIKey, ID: "k", FilePerm: true}
	withoutPerm := service.Identity{Kind: service.KindAPIKey, ID: "k", MountPerm: true}

	require.Equal(t, http.StatusOK, runGuard(t, RequireFile, admin).Code)
	require.Equal(t, http.StatusOK, runGuard(t, RequireFile, withPerm).Code)
	require.Equal(t, http.StatusForbidden, runGuard(t, RequireFile, withoutPerm).Code)
}

func TestRequireMount(t *testing.T) {
	withPerm := service.Identity{Kind: service.KindAPIKey, ID: "k", MountPerm: true}
	withoutPerm := service.Identity{Kind: service.KindAPIKey, ID: "k", FilePerm: true}

	require.Equal(t, http.StatusOK, runGuard(t, RequireMount, service.AdminIdentity("root")).Code)
	require.Equal(t, http.StatusOK, runGuard(t, RequireMount, withPerm).Code)
	require.Equal(t, http.StatusForbidden, runGuard(t, RequireMount, withoutPerm).Code)
}

func TestRequireAdmin(t *testing.T) {
	key := service.Identity{
		Kind: service.KindAPIKey, ID: "k",
		FilePerm: true, TextPerm: true, MountPerm: true,
	}

	require.Equal(t, http.StatusOK, runGuard(t, RequireAdmin, service.AdminIdentity("root")).Code)
	require.Equal(t, http.StatusForbidden, runGuard(t, RequireAdmin, key).Code)
}
