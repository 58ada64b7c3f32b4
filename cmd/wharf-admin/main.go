// wharf-admin provisions the rows the gateway consumes but never
// writes: storage configs (with sealed credentials), mounts and API
// keys.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wharf/internal/server/config"
	"wharf/internal/server/crypto"
	"wharf/internal/server/database"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wharf-admin <command> [flags]

Commands:
  add-config   register an S3-compatible storage config
  add-mount    bind a virtual path to a storage config
  add-key      create an API key
  set-limit    change the single-upload size ceiling

Connection and sealing come from the environment (DATABASE_URL,
ENCRYPTION_SECRET). Run "wharf-admin <command> -h" for flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "add-config":
		err = addConfig(ctx, os.Args[2:])
	case "add-mount":
		err = addMount(ctx, os.Args[2:])
	case "add-key":
		err = addKey(ctx, os.Args[2:])
	case "set-limit":
		err = setLimit(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*database.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, cfg, nil
}

func addConfig(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-config", flag.ExitOnError)
	name := fs.String("name", "", "display name (required)")
	provider := fs.String("provider", database.ProviderOther,
		`provider type: "Cloudflare R2", "Backblaze B2", "AWS S3" or "Other"`)
	endpoint := fs.String("endpoint", "", "endpoint URL (required)")
	bucket := fs.String("bucket", "", "bucket name (required)")
	region := fs.String("region", "", "region")
	accessKey := fs.String("access-key", "", "access key id (required)")
	secretKey := fs.String("secret-key", "", "secret access key (required)")
	pathStyle := fs.Bool("path-style", false, "use path-style bucket addressing")
	folder := fs.String("folder", "", "default folder prefix inside the bucket")
	customHost := fs.String("custom-host", "", "public host serving the bucket")
	public := fs.Bool("public", false, "usable by every key")
	isDefault := fs.Bool("default", false, "default config of its scope")
	adminID := fs.String("admin", "", "owning admin id (empty for public scope)")
	capacity := fs.Int64("capacity", 0, "total capacity in bytes (0 = unlimited)")
	signatureTTL := fs.Int("signature-ttl", 3600, "presigned URL lifetime in seconds")
	fs.Parse(args)

	for flagName, val := range map[string]string{
		"name":       *name,
		"endpoint":   *endpoint,
		"bucket":     *bucket,
		"access-key": *accessKey,
		"secret-key": *secretKey,
	} {
		if val == "" {
			return fmt.Errorf("-%s is required", flagName)
		}
	}
	switch *provider {
	case database.ProviderR2, database.ProviderB2, database.ProviderS3, database.ProviderOther:
	default:
		return fmt.Errorf("unknown provider type %q", *provider)
	}

	db, cfg, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	sealedAccess, err := crypto.Seal(*accessKey, cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("seal access key: %w", err)
	}
	sealedSecret, err := crypto.Seal(*secretKey, cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("seal secret key: %w", err)
	}

	sc := &database.StorageConfig{
		ID:                 uuid.NewString(),
		Name:               *name,
		ProviderType:       *provider,
		EndpointURL:        *endpoint,
		BucketName:         *bucket,
		Region:             *region,
		AccessKeyID:        sealedAccess,
		SecretAccessKey:    sealedSecret,
		PathStyle:          *pathStyle,
		DefaultFolder:      *folder,
		CustomHost:         *customHost,
		IsPublic:           *public,
		IsDefault:          *isDefault,
		SignatureExpiresIn: *signatureTTL,
	}
	if *adminID != "" {
		sc.AdminID = adminID
	}
	if *capacity > 0 {
		sc.TotalStorageBytes = capacity
	}

	if err := database.NewStorageRepository(db).CreateConfig(ctx, sc); err != nil {
		return err
	}

	fmt.Printf("✓ storage config %q created (id %s)\n", *name, sc.ID)
	return nil
}

func addMount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-mount", flag.ExitOnError)
	name := fs.String("name", "", "display name (required)")
	path := fs.String("path", "", "virtual mount path, e.g. /team/docs (required)")
	configID := fs.String("config", "", "storage config id (required)")
	sortOrder := fs.Int("sort", 0, "tie-break order among mounts of equal path length")
	fs.Parse(args)

	if *name == "" || *path == "" || *configID == "" {
		return fmt.Errorf("-name, -path and -config are required")
	}
	if !strings.HasPrefix(*path, "/") {
		return fmt.Errorf("mount path must be absolute")
	}

	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := database.NewStorageRepository(db)
	if _, err := repo.GetConfig(ctx, *configID); err != nil {
		return err
	}

	m := &database.Mount{
		ID:              uuid.NewString(),
		Name:            *name,
		MountPath:       strings.TrimRight(*path, "/"),
		StorageConfigID: *configID,
		IsActive:        true,
		SortOrder:       *sortOrder,
	}
	if m.MountPath == "" {
		m.MountPath = "/"
	}
	if err := repo.CreateMount(ctx, m); err != nil {
		return err
	}

	fmt.Printf("✓ mount %q on config %s created (id %s)\n", m.MountPath, *configID, m.ID)
	return nil
}

func addKey(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-key", flag.ExitOnError)
	name := fs.String("name", "", "display name (required)")
	basicPath := fs.String("path", "/", "basic path confining the key")
	file := fs.Bool("file", true, "grant the file capability")
	text := fs.Bool("text", false, "grant the text capability")
	mount := fs.Bool("mount", false, "grant the mount capability")
	expiresIn := fs.Int("expires-in", 0, "days until the key expires (0 = never)")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("-name is required")
	}
	if !strings.HasPrefix(*basicPath, "/") {
		return fmt.Errorf("basic path must be absolute")
	}

	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	secret, err := generateKey()
	if err != nil {
		return err
	}

	k := &database.APIKey{
		ID:              uuid.NewString(),
		Name:            *name,
		Key:             secret,
		BasicPath:       *basicPath,
		FilePermission:  *file,
		TextPermission:  *text,
		MountPermission: *mount,
	}
	if *expiresIn > 0 {
		k.ExpiresAt = time.Now().UTC().AddDate(0, 0, *expiresIn)
	}

	if err := database.NewAPIKeyRepository(db).Create(ctx, k); err != nil {
		return err
	}

	fmt.Printf("✓ api key %q created (id %s)\n", *name, k.ID)
	fmt.Printf("  key: %s\n", secret)
	return nil
}

func setLimit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-limit", flag.ExitOnError)
	mib := fs.Int64("mib", database.DefaultMaxUploadMiB, "single-upload ceiling in MiB")
	fs.Parse(args)

	if *mib <= 0 {
		return fmt.Errorf("-mib must be positive")
	}

	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := database.NewSettingsRepository(db)
	if err := repo.Set(ctx, "max_upload_size", strconv.FormatInt(*mib, 10)); err != nil {
		return err
	}

	fmt.Printf("✓ max upload size set to %d MiB\n", *mib)
	return nil
}

// generateKey returns a fresh API key secret. The prefix makes stray
// keys recognizable in logs and config files.
func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "wk_" + hex.EncodeToString(buf), nil
}
