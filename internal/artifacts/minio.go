package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// Validate reports missing connection settings.
func (c MinioConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("artifacts: minio endpoint required")
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("artifacts: minio bucket required")
	}
	return nil
}

// Minio stores artifacts as objects in a single bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio connects to the endpoint and creates the bucket if it is missing.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
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
		return nil, fmt.Errorf("artifacts: minio client: %w", err)
	}
	store, err := NewMinioWithClient(client, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if err := store.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return store, nil
}

// NewMinioWithClient wraps an existing client without touching the bucket.
func NewMinioWithClient(client *minio.Client, bucket, prefix string) (*Minio, error) {
	if client == nil {
		return nil, errors.New("artifacts: minio client is required")
	}
	return &Minio{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

func (m *Minio) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("artifacts: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("artifacts: make bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *Minio) objectKey(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if m.prefix == "" {
		return cleaned, nil
	}
	return path.Join(m.prefix, cleaned), nil
}

func (m *Minio) Read(ctx context.Context, key string) ([]byte, error) {
	object, err := m.objectKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify(key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.classify(key, err)
	}
	return data, nil
}

func (m *Minio) Write(ctx context.Context, key string, data []byte) (string, error) {
	object, err := m.objectKey(key)
	if err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{ContentType: contentType(object)}
	if _, err := m.client.PutObject(ctx, m.bucket, object, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("put artifact %s: %w", key, err)
	}
	return m.location(object), nil
}

func (m *Minio) PutFile(ctx context.Context, key, src string) (string, error) {
	object, err := m.objectKey(key)
	if err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{ContentType: contentType(object)}
	if _, err := m.client.FPutObject(ctx, m.bucket, object, src, opts); err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}
	return m.location(object), nil
}

func (m *Minio) Exists(ctx context.Context, key string) (bool, error) {
	object, err := m.objectKey(key)
	if err != nil {
		return false, err
	}
	if _, err := m.client.StatObject(ctx, m.bucket, object, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	return true, nil
}

func (m *Minio) Location(key string) string {
	object, err := m.objectKey(key)
	if err != nil {
		return ""
	}
	return m.location(object)
}

func (m *Minio) location(object string) string {
	return "s3://" + m.bucket + "/" + object
}

func (m *Minio) classify(key string, err error) error {
	if isNoSuchKey(err) {
		return notFound(key, err)
	}
	return fmt.Errorf("read artifact %s: %w", key, err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func contentType(object string) string {
	switch strings.ToLower(path.Ext(object)) {
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
