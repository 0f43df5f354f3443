package gcp

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/studify/video-pipeline/internal/platform/logger"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS      ObjectStorageMode = "gcs"
	ObjectStorageModeEmulator ObjectStorageMode = "gcs_emulator"
)

// BucketService is the object store holding the original uploads. Uploads
// land there through the web app, so the pipeline only reads: it checks
// the source object and resolves its public URL for the compression
// stage. Derived artifacts live wherever the media transformation service
// puts them.
type BucketService interface {
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	GetPublicURL(key string) string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	mode          ObjectStorageMode
	bucketName    string
	cdnDomain     string
	emulatorHost  string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(os.Getenv("VIDEO_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var VIDEO_GCS_BUCKET_NAME")
	}
	cdnDomain := strings.TrimSpace(os.Getenv("VIDEO_CDN_DOMAIN"))

	mode := ObjectStorageModeGCS
	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	if emulatorHost != "" {
		mode = ObjectStorageModeEmulator
	}

	ctx := context.Background()
	stClient, err := newStorageClientForMode(ctx, mode, emulatorHost)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized",
		"mode", mode,
		"bucket", bucketName,
		"emulator_host", emulatorHost,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		mode:          mode,
		bucketName:    bucketName,
		cdnDomain:     cdnDomain,
		emulatorHost:  emulatorHost,
	}, nil
}

func newStorageClientForMode(ctx context.Context, mode ObjectStorageMode, emulatorHost string) (*storage.Client, error) {
	switch mode {
	case ObjectStorageModeEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
		return storage.NewClient(ctx, opts...)
	}
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("object key required")
	}
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("attrs %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if bs.mode == ObjectStorageModeEmulator {
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
			bs.emulatorHost, bs.bucketName, url.PathEscape(key))
	}
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimSuffix(bs.cdnDomain, "/"), key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, key)
}
