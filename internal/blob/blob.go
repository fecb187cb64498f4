// Package blob uploads file content to S3-compatible object storage and
// hands back a link the recipient can download from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("blob storage is not configured")

// Uploader stores content and returns a retrievable download reference.
type Uploader interface {
	Upload(ctx context.Context, name string, size int64, contentType string, body io.Reader) (string, error)
}

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	LinkExpiry time.Duration
}

type MinioUploader struct {
	client     objectClient
	bucket     string
	linkExpiry time.Duration
	logger     zerolog.Logger
}

func NewMinioUploader(opts Options, logger zerolog.Logger) (*MinioUploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return newMinioUploader(client, opts.Bucket, opts.LinkExpiry, logger), nil
}

func newMinioUploader(client objectClient, bucket string, linkExpiry time.Duration, logger zerolog.Logger) *MinioUploader {
	return &MinioUploader{
		client:     client,
		bucket:     bucket,
		linkExpiry: linkExpiry,
		logger:     logger.With().Str("component", "blob").Logger(),
	}
}

// Upload puts body under a fresh key and returns a presigned GET link that
// stays valid for the configured link expiry.
func (u *MinioUploader) Upload(ctx context.Context, name string, size int64, contentType string, body io.Reader) (string, error) {
	name = sanitizeName(name)
	key := uuid.NewString() + "/" + name
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	info, err := u.client.PutObject(ctx, u.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("putting object %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	link, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.linkExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presigning object %s: %w", key, err)
	}

	u.logger.Info().
		Str("key", key).
		Int64("bytes", info.Size).
		Dur("duration", time.Since(start)).
		Msg("file uploaded")

	return link.String(), nil
}

// Disabled stands in when no blob storage is configured; every upload fails.
type Disabled struct{}

func (Disabled) Upload(ctx context.Context, name string, size int64, contentType string, body io.Reader) (string, error) {
	return "", ErrNotConfigured
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
