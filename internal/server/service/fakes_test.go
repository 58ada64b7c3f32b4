package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"wharf/internal/server/cache"
	"wharf/internal/server/config"
	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
)

// fakeFiles is an in-memory FileStore mirroring the repository's
// semantics: slug uniqueness, sparse updates, cascade to the shadow.
type fakeFiles struct {
	mu          sync.Mutex
	records     map[string]*database.FileRecord
	passwords   map[string]string
	slugQueries int
	slugAlways  bool // force every slug probe to report a collision
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		records:   make(map[string]*database.FileRecord),
		passwords: make(map[string]string),
	}
}

func copyRecord(f *database.FileRecord) *database.FileRecord {
	c := *f
	if f.ETag != nil {
		v := *f.ETag
		c.ETag = &v
	}
	if f.Password != nil {
		v := *f.Password
		c.Password = &v
	}
	return &c
}

func (s *fakeFiles) Create(ctx context.Context, f *database.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Slug == f.Slug {
			return database.ErrDuplicateSlug
		}
	}
	if f.ExpiresAt.IsZero() {
		f.ExpiresAt = database.NeverExpires
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	s.records[f.ID] = copyRecord(f)
	return nil
}

func (s *fakeFiles) GetByID(ctx context.Context, id string) (*database.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	return copyRecord(r), nil
}

func (s *fakeFiles) GetBySlug(ctx context.Context, slug string) (*database.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slugQueries++
	for _, r := range s.records {
		if r.Slug == slug {
			return copyRecord(r), nil
		}
	}
	if s.slugAlways {
		return copyRecord(&database.FileRecord{ID: "occupied", Slug: slug}), nil
	}
	return nil, nil
}

func (s *fakeFiles) Update(ctx context.Context, id string, u database.FileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return database.ErrFileNotFound
	}
	if u.Slug != nil {
		r.Slug = *u.Slug
	}
	if u.Filename != nil {
		r.Filename = *u.Filename
	}
	if u.MimeType != nil {
		r.MimeType = *u.MimeType
	}
	if u.Size != nil {
		r.Size = max(*u.Size, 0)
	}
	if u.ETag != nil {
		v := *u.ETag
		r.ETag = &v
	}
	if u.CreatedBy != nil {
		r.CreatedBy = *u.CreatedBy
	}
	if u.Remark != nil {
		r.Remark = *u.Remark
	}
	if u.Password != nil {
		if *u.Password == "" {
			r.Password = nil
		} else {
			v := *u.Password
			r.Password = &v
		}
	}
	if u.ExpiresAt != nil {
		r.ExpiresAt = *u.ExpiresAt
	}
	if u.MaxViews != nil {
		r.MaxViews = max(*u.MaxViews, 0)
	}
	if u.UseProxy != nil {
		r.UseProxy = *u.UseProxy
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeFiles) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return database.ErrFileNotFound
	}
	delete(s.records, id)
	delete(s.passwords, id)
	return nil
}

func (s *fakeFiles) IncrementViews(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return database.ErrFileNotFound
	}
	r.Views++
	return nil
}

func (s *fakeFiles) SumSizeByConfig(ctx context.Context, configID, excludeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, r := range s.records {
		if r.StorageConfigID == configID && r.ID != excludeID {
			sum += r.Size
		}
	}
	return sum, nil
}

func (s *fakeFiles) List(ctx context.Context, creator string, limit, offset int) ([]*database.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.FileRecord
	for _, r := range s.records {
		if creator == "" || r.CreatedBy == creator {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeFiles) GetStats(ctx context.Context) (*database.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &database.Stats{}
	now := time.Now()
	for _, r := range s.records {
		stats.TotalFiles++
		stats.TotalViews += int64(r.Views)
		stats.BytesStored += r.Size
		if r.ExpiresAt.After(now) {
			stats.ActiveFiles++
		}
	}
	return stats, nil
}

func (s *fakeFiles) UpsertPassword(ctx context.Context, fileID, plain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[fileID] = plain
	return nil
}

func (s *fakeFiles) GetPassword(ctx context.Context, fileID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwords[fileID], nil
}

func (s *fakeFiles) DeletePassword(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passwords, fileID)
	return nil
}

// fakeStorage serves configs and mounts from memory.
type fakeStorage struct {
	configs   map[string]*database.StorageConfig
	mounts    []database.MountWithConfig
	mountsErr error
}

func newFakeStorage(configs ...*database.StorageConfig) *fakeStorage {
	s := &fakeStorage{configs: make(map[string]*database.StorageConfig)}
	for _, c := range configs {
		s.configs[c.ID] = c
	}
	return s
}

func (s *fakeStorage) GetConfig(ctx context.Context, id string) (*database.StorageConfig, error) {
	c, ok := s.configs[id]
	if !ok {
		return nil, database.ErrConfigNotFound
	}
	return c, nil
}

func (s *fakeStorage) DefaultConfig(ctx context.Context, adminID string) (*database.StorageConfig, error) {
	if adminID != "" {
		for _, c := range s.configs {
			if c.IsDefault && c.AdminID != nil && *c.AdminID == adminID {
				return c, nil
			}
		}
	}
	for _, c := range s.configs {
		if c.IsDefault && c.IsPublic {
			return c, nil
		}
	}
	return nil, database.ErrConfigNotFound
}

func (s *fakeStorage) ActiveMounts(ctx context.Context) ([]database.MountWithConfig, error) {
	if s.mountsErr != nil {
		return nil, s.mountsErr
	}
	return s.mounts, nil
}

// fakeObjects records transfers instead of talking to a store.
type fakeObjects struct {
	mu           sync.Mutex
	uploads      map[string][]byte
	removed      []string
	touched      []string
	listing      []objectstore.Entry
	listPrefixes []string
	uploadErr    error
	presignErr   error
	nextETag     string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: make(map[string][]byte), nextETag: "fake-etag-1"}
}

func (s *fakeObjects) Upload(ctx context.Context, cfg *database.StorageConfig, key string, body []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads[key] = append([]byte(nil), body...)
	return s.nextETag, nil
}

func (s *fakeObjects) PresignPut(ctx context.Context, cfg *database.StorageConfig, key, contentType string) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://signed.example.com/put/" + key, nil
}

func (s *fakeObjects) PresignGet(ctx context.Context, cfg *database.StorageConfig, key string, opts objectstore.GetURLOptions) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	disp := "inline"
	if opts.Attachment {
		disp = "attachment"
	}
	return "https://signed.example.com/get/" + key + "?disp=" + disp, nil
}

func (s *fakeObjects) Remove(ctx context.Context, cfg *database.StorageConfig, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, key)
	delete(s.uploads, key)
	return nil
}

func (s *fakeObjects) Fetch(ctx context.Context, cfg *database.StorageConfig, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.uploads[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *fakeObjects) PublicURL(cfg *database.StorageConfig, key string) string {
	return "https://store.example.com/" + cfg.BucketName + "/" + key
}

func (s *fakeObjects) TouchAncestors(ctx context.Context, cfg *database.StorageConfig, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, key)
	return nil
}

func (s *fakeObjects) List(ctx context.Context, cfg *database.StorageConfig, prefix string) ([]objectstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listPrefixes = append(s.listPrefixes, prefix)
	return s.listing, nil
}

func (s *fakeObjects) hasUpload(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploads[key]
	return ok
}

func (s *fakeObjects) uploadKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.uploads))
	for k := range s.uploads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fakeSettings returns a fixed max upload size.
type fakeSettings struct {
	maxBytes int64
}

func (s *fakeSettings) MaxUploadBytes(ctx context.Context) (int64, error) {
	if s.maxBytes == 0 {
		return database.DefaultMaxUploadMiB << 20, nil
	}
	return s.maxBytes, nil
}

// testEnv bundles a service wired to fakes.
type testEnv struct {
	svc      *Service
	files    *fakeFiles
	storage  *fakeStorage
	objects  *fakeObjects
	settings *fakeSettings
	cache    *cache.DirCache
}

func newTestEnv(configs ...*database.StorageConfig) *testEnv {
	env := &testEnv{
		files:    newFakeFiles(),
		storage:  newFakeStorage(configs...),
		objects:  newFakeObjects(),
		settings: &fakeSettings{},
		cache:    cache.New(time.Minute),
	}
	env.svc = New(env.files, env.storage, env.settings, env.objects, env.cache, &config.Config{
		BaseURL: "https://share.example.com",
	})
	return env
}

func testStorageConfig(id string) *database.StorageConfig {
	now := time.Now().UTC()
	return &database.StorageConfig{
		ID:                 id,
		Name:               "store-" + id,
		ProviderType:       database.ProviderOther,
		EndpointURL:        "https://s3.example.com",
		BucketName:         "wharf-test",
		Region:             "us-east-1",
		PathStyle:          true,
		IsPublic:           true,
		SignatureExpiresIn: 3600,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func rootMount(configID string) database.MountWithConfig {
	return database.MountWithConfig{
		Mount: database.Mount{
			ID:              "mount-" + configID,
			Name:            "root",
			MountPath:       "/",
			StorageConfigID: configID,
			IsActive:        true,
		},
		ProviderType: database.ProviderOther,
		ConfigPublic: true,
	}
}

func mountAt(path, configID string) database.MountWithConfig {
	return database.MountWithConfig{
		Mount: database.Mount{
			ID:              "mount-" + path,
			Name:            path,
			MountPath:       path,
			StorageConfigID: configID,
			IsActive:        true,
		},
		ProviderType: database.ProviderOther,
		ConfigPublic: true,
	}
}

func fileKeyIdent(id string) Identity {
	return Identity{Kind: KindAPIKey, ID: id, BasicPath: "/", FilePerm: true, MountPerm: true}
}
