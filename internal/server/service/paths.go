package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

// normalizeVirtualPath collapses a virtual path to its canonical form:
// leading slash, no trailing slash, root as the singleton "/".
func normalizeVirtualPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// isWithin reports whether child equals parent or sits below it. The
// comparison respects segment boundaries, so "/team2" is not within
// "/team".
func isWithin(child, parent string) bool {
	if parent == "/" {
		return true
	}
	return child == parent || strings.HasPrefix(child, parent+"/")
}

// mountEligible filters out mounts whose provider requires public
// exposure while the backing config is private. Backblaze B2 relays
// uploads through presigned URLs, so a private B2 config cannot be
// reached through a mount.
func mountEligible(m database.MountWithConfig) bool {
	if m.ProviderType == database.ProviderB2 {
		return m.ConfigPublic
	}
	return true
}

// accessibleMounts projects the mount set visible to a basic path. A
// root basic path sees every eligible mount; otherwise a mount is
// visible when it equals or descends from the basic path, or when the
// basic path is itself nested inside the mount.
func accessibleMounts(basicPath string, mounts []database.MountWithConfig) []database.MountWithConfig {
	basic := normalizeVirtualPath(basicPath)

	var out []database.MountWithConfig
	for _, m := range mounts {
		if !mountEligible(m) {
			continue
		}
		mp := normalizeVirtualPath(m.MountPath)
		if basic == "/" || isWithin(mp, basic) || isWithin(basic, mp) {
			out = append(out, m)
		}
	}
	return out
}

// resolveWritePrefix maps an identity and a target storage config to
// the bucket-relative prefix the identity may write under. Admins
// bypass mount matching but may only target public configs or configs
// they own. API keys must reach the config through an accessible
// mount; the longest matching mount path wins and the remainder of the
// basic path becomes the sub-path inside the store.
func (s *Service) resolveWritePrefix(ctx context.Context, ident Identity, cfg *database.StorageConfig) (string, error) {
	if ident.IsAdmin() {
		if !cfg.IsPublic && (cfg.AdminID == nil || *cfg.AdminID != ident.ID) {
			return "", &PermissionError{Reason: "storage config belongs to another administrator"}
		}
		return objectstore.NormalizeSubPath(cfg, "/"), nil
	}

	mounts, err := s.storage.ActiveMounts(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load mounts: %w", err)
	}

	basic := normalizeVirtualPath(ident.BasicPath)

	var candidates []database.MountWithConfig
	for _, m := range accessibleMounts(basic, mounts) {
		if m.StorageConfigID == cfg.ID {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", &PermissionError{Reason: "no accessible mount for this storage config"}
	}

	sort.Slice(candidates, func(i, j int) bool {
		pi := normalizeVirtualPath(candidates[i].MountPath)
		pj := normalizeVirtualPath(candidates[j].MountPath)
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		if candidates[i].SortOrder != candidates[j].SortOrder {
			return candidates[i].SortOrder < candidates[j].SortOrder
		}
		return pi < pj
	})

	mp := normalizeVirtualPath(candidates[0].MountPath)
	sub := "/"
	if isWithin(basic, mp) {
		sub = strings.TrimPrefix(basic, mp)
		if !strings.HasPrefix(sub, "/") {
			sub = "/" + sub
		}
	}
	return objectstore.NormalizeSubPath(cfg, sub), nil
}
