package service

import (
	"context"
	"fmt"
	"strings"

	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

// DirListing is one level of the virtual directory tree.
type DirListing struct {
	Path    string              `json:"path"`
	Entries []objectstore.Entry `json:"entries"`
}

// Browse lists the directory behind a virtual path. The path is
// resolved through the mount table the same way write paths are, and
// listings are cached per config with a short TTL.
func (s *Service) Browse(ctx context.Context, ident Identity, reqPath string) (*DirListing, error) {
	if !ident.IsAdmin() && !ident.MountPerm {
		return nil, &PermissionError{Reason: "key lacks mount permission"}
	}
	if strings.Contains(reqPath, "..") {
		return nil, &ValidationError{Field: "path", Reason: "must not contain .."}
	}

	p := normalizeVirtualPath(reqPath)
	if !ident.IsAdmin() && !isWithin(p, normalizeVirtualPath(ident.BasicPath)) {
		return nil, &PermissionError{Reason: "path is outside the key's basic path"}
	}

	mounts, err := s.storage.ActiveMounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mounts: %w", err)
	}

	// Longest mount path that contains the requested path wins.
	var best *database.MountWithConfig
	bestLen := -1
	for i, m := range mounts {
		if !mountEligible(m) {
			continue
		}
		mp := normalizeVirtualPath(m.MountPath)
		if isWithin(p, mp) && len(mp) > bestLen {
			best = &mounts[i]
			bestLen = len(mp)
		}
	}
	if best == nil {
		return nil, &NotFoundError{What: "mount"}
	}

	mp := normalizeVirtualPath(best.MountPath)
	sub := strings.TrimPrefix(p, mp)
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}

	cfg, err := s.loadConfig(ctx, best.StorageConfigID)
	if err != nil {
		return nil, err
	}

	if entries, ok := s.cache.Get(cfg.ID, p); ok {
		return &DirListing{Path: p, Entries: entries}, nil
	}

	prefix := objectstore.NormalizeSubPath(cfg, sub)
	entries, err := s.objects.List(ctx, cfg, prefix)
	if err != nil {
		return nil, &TransferError{Op: "list", Err: err}
	}
	s.cache.Put(cfg.ID, p, entries)

	return &DirListing{Path: p, Entries: entries}, nil
}
