// Package storage implements the Storage collaborator of spec §6: a
// pluggable PSCO backend behind init/finish/getByID/newReplica/newVersion.
// Absence of configuration disables PSCO support silently — callers check
// for a nil Storage rather than this package returning a sentinel.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
)

// MinIOConfig configures the default PSCO backend, bucket-per-object
// storage grounded in the worker executor's uploadToMinIO path.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinIOBackend stores PSCOs as objects, one bucket holding the whole PSCO
// namespace and the object key equal to the PSCO id.
type MinIOBackend struct {
	cfg    MinIOConfig
	client *minio.Client
	log    *zap.Logger
}

var _ datamanager.StorageCollaborator = (*MinIOBackend)(nil)

// NewMinIOBackend builds a backend without connecting; Init performs the
// connection and bucket setup (spec §6 Storage collaborator: init(cfgPath)).
func NewMinIOBackend(cfg MinIOConfig, log *zap.Logger) *MinIOBackend {
	return &MinIOBackend{cfg: cfg, log: log}
}

func (b *MinIOBackend) Init(cfgPath string) error {
	if b.cfg.Endpoint == "" {
		return fmt.Errorf("minio storage: endpoint is required")
	}
	client, err := minio.New(b.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(b.cfg.AccessKey, b.cfg.SecretKey, ""),
		Secure: b.cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("minio storage: connect: %w", err)
	}
	b.client = client

	bucket := b.bucket()
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio storage: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("minio storage: make bucket: %w", err)
		}
	}
	b.log.Info("minio storage backend ready", zap.String("bucket", bucket))
	return nil
}

func (b *MinIOBackend) Finish() error { return nil }

func (b *MinIOBackend) bucket() string {
	if b.cfg.Bucket == "" {
		return "taskrt-pscos"
	}
	return b.cfg.Bucket
}

func (b *MinIOBackend) GetByID(pscoID string) ([]byte, error) {
	ctx := context.Background()
	obj, err := b.client.GetObject(ctx, b.bucket(), pscoID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio storage: getByID %s: %w", pscoID, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("minio storage: read %s: %w", pscoID, err)
	}
	return data, nil
}

func (b *MinIOBackend) NewReplica(pscoID, host string) error {
	// Object storage is inherently replicated by the backing cluster;
	// replica placement is out of this runtime's control.
	b.log.Info("newReplica no-op on object storage backend", zap.String("psco_id", pscoID), zap.String("host", host))
	return nil
}

func (b *MinIOBackend) NewVersion(pscoID string) (string, error) {
	data, err := b.GetByID(pscoID)
	if err != nil {
		return "", err
	}
	newID := pscoID + "-v" + fmt.Sprintf("%d", len(data)) // suffix is the payload length, not a per-version counter
	ctx := context.Background()
	_, err = b.client.PutObject(ctx, b.bucket(), newID, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("minio storage: newVersion %s: %w", pscoID, err)
	}
	return newID, nil
}

// Put uploads raw bytes under pscoID. It is not part of
// datamanager.StorageCollaborator, and StoreParam does not call it.
func (b *MinIOBackend) Put(pscoID string, data []byte) error {
	ctx := context.Background()
	_, err := b.client.PutObject(ctx, b.bucket(), pscoID, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio storage: put %s: %w", pscoID, err)
	}
	return nil
}
