package database

import "time"

// Provider kinds distinguish object stores whose upload path needs
// special handling. The values are stored verbatim in storage_configs
// and surfaced to clients in presign responses.
const (
	ProviderR2    = "Cloudflare R2"
	ProviderB2    = "Backblaze B2"
	ProviderS3    = "AWS S3"
	ProviderOther = "Other"
)

// NeverExpires is the sentinel stored for records without an expiry, so
// expiry comparisons never need a null check.
var NeverExpires = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// IsNever reports whether t is the no-expiry sentinel.
func IsNever(t time.Time) bool {
	return !t.Before(NeverExpires)
}

// StorageConfig describes one S3-compatible backing store. AccessKeyID
// and SecretAccessKey hold sealed (encrypted) values; they are opened
// with the gateway's encryption secret only at the point of use.
type StorageConfig struct {
	ID                 string
	Name               string
	ProviderType       string
	EndpointURL        string
	BucketName         string
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	PathStyle          bool
	DefaultFolder      string
	CustomHost         string
	IsPublic           bool
	IsDefault          bool
	AdminID            *string // nil for public-scope configs
	TotalStorageBytes  *int64  // nil means no capacity ceiling
	SignatureExpiresIn int     // presigned URL lifetime in seconds
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Mount binds a virtual path prefix to a storage config.
type Mount struct {
	ID              string
	Name            string
	MountPath       string
	StorageConfigID string
	IsActive        bool
	SortOrder       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MountWithConfig is the join projection the path resolver works on.
type MountWithConfig struct {
	Mount
	ProviderType string
	ConfigPublic bool
}

// FileRecord is the denormalized metadata row for one uploaded object.
// Size and ETag are authoritative only after commit; a presign-flow
// placeholder carries size 0 and a nil ETag until then.
type FileRecord struct {
	ID              string
	Slug            string
	Filename        string
	StoragePath     string
	S3URL           string
	StorageConfigID string
	MimeType        string
	Size            int64
	ETag            *string
	CreatedBy       string // "admin:<id>", "apikey:<id>", or empty
	Remark          string
	Password        *string // bcrypt hash, nil when unprotected
	ExpiresAt       time.Time
	MaxViews        int // 0 means unlimited
	Views           int
	UseProxy        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FilePassword is the one-to-one shadow row holding the plaintext
// password for owner-facing display. It lives and dies with the file
// row's password column.
type FilePassword struct {
	FileID        string
	PlainPassword string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// APIKey is a persisted key record. Request identities are derived from
// it at auth time: the basic path confines the key to a subtree and the
// permission flags gate the endpoint groups.
type APIKey struct {
	ID              string
	Name            string
	Key             string
	BasicPath       string
	TextPermission  bool
	FilePermission  bool
	MountPermission bool
	ExpiresAt       time.Time
	LastUsed        *time.Time
	CreatedAt       time.Time
}

// Stats holds aggregate gateway statistics.
type Stats struct {
	TotalFiles  int64
	ActiveFiles int64
	TotalViews  int64
	BytesStored int64
}
