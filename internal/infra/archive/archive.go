// Package archive copies run logs to S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

// Config holds the object storage settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// Validate reports missing settings.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("archive endpoint is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("archive bucket is required"))
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("archive access and secret keys are required"))
	}
	return errors.Join(errs...)
}

// objectStore is the subset of the minio client used by the archive
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive uploads run logs to a bucket
type Archive struct {
	cfg   Config
	store objectStore
}

// Ensure Archive implements repository.LogArchive
var _ repository.LogArchive = (*Archive)(nil)

// New creates an Archive backed by a minio client.
func New(cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &Archive{cfg: cfg, store: client}, nil
}

// ObjectKey returns the key a run's log is stored under:
// <prefix>/<root>/<tag>/<log file>.
func (a *Archive) ObjectKey(result *model.RunResult) string {
	return path.Join(strings.Trim(a.cfg.Prefix, "/"), result.Identity.Root, result.Identity.Tag(), filepath.Base(result.LogPath))
}

// Archive uploads the run log and returns its s3 URL.
func (a *Archive) Archive(ctx context.Context, result *model.RunResult) (string, error) {
	if result.LogPath == "" {
		return "", errors.New("run has no log to archive")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := a.ObjectKey(result)
	info, err := a.store.FPutObject(ctx, a.cfg.Bucket, key, result.LogPath, minio.PutObjectOptions{
		ContentType: "text/plain",
		UserMetadata: map[string]string{
			"applet": result.Identity.AppletName(),
			"job":    result.JobID,
			"status": result.Status.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to %s: %w", result.LogPath, a.cfg.Bucket, err)
	}
	log.Debug("Archived log", "bucket", info.Bucket, "key", info.Key, "size", info.Size)
	return fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key), nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{Region: a.cfg.Region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.cfg.Bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
