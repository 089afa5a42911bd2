// Package avatar stores user pictures in an S3-compatible bucket and builds
// the default Gravatar URL for users without an upload.
package avatar

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/example/contacts/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrInvalidImage is returned for uploads that are empty, too large or not an
// allowed image type.
var ErrInvalidImage = errors.New("invalid image")

var allowedContentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Uploader stores an image under key and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Sniff detects the image type from the first bytes of r, ignoring whatever
// the client claimed. The returned reader yields the full content again.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("avatar.Sniff: %w", err)
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if n == 0 || !slices.Contains(allowedContentTypes, contentType) {
		return "", nil, fmt.Errorf("avatar.Sniff: %w: content type %q", ErrInvalidImage, contentType)
	}
	return contentType, io.MultiReader(bytes.NewReader(head), r), nil
}

// Gravatar returns the identicon URL for email, used as the initial avatar.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}

// MinioUploader writes avatars with PutObject, overwriting the previous
// picture stored under the same key.
type MinioUploader struct {
	client  *minio.Client
	bucket  string
	baseURL string
	maxSize int64
}

// NewMinio connects to the configured endpoint and fails fast when the bucket
// is missing.
func NewMinio(ctx context.Context, cfg config.AvatarConfig) (*MinioUploader, error) {
	const op = "avatar.NewMinio"

	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		base = scheme + "://" + endpoint + "/" + cfg.Bucket
	}

	return &MinioUploader{client: client, bucket: cfg.Bucket, baseURL: base, maxSize: cfg.MaxSizeBytes}, nil
}

func (m *MinioUploader) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	const op = "avatar.MinioUploader.Upload"

	if err := m.check(size, contentType); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "no-cache",
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return m.baseURL + "/" + key, nil
}

func (m *MinioUploader) check(size int64, contentType string) error {
	if size <= 0 || (m.maxSize > 0 && size > m.maxSize) {
		return fmt.Errorf("%w: size %d", ErrInvalidImage, size)
	}
	if !slices.Contains(allowedContentTypes, contentType) {
		return fmt.Errorf("%w: content type %q", ErrInvalidImage, contentType)
	}
	return nil
}
