// Package objectstore talks to the S3-compatible bucket that holds incoming
// training data and promoted model artifacts.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrInvalidPath = errors.New("invalid object path")

type Config struct {
	// Endpoint may be a bare host:port or a URL; a URL's scheme decides TLS.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Gateway lists and uploads objects. It satisfies workflow.StorageGateway.
type Gateway struct {
	client *minio.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	host, secure, err := ParseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, logger: logger}, nil
}

// ParseEndpoint turns "http://minio:9000" or "minio:9000" into a host and
// a TLS flag.
func ParseEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("storage endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), useSSL, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse storage endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported storage endpoint scheme %q", u.Scheme)
	}
}

// SplitPath splits "bucket/some/prefix/" (optionally "s3://"-prefixed) into
// its bucket and key prefix.
func SplitPath(p string) (bucket, prefix string, err error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "s3://")
	p = strings.TrimPrefix(p, "/")
	bucket, prefix, _ = strings.Cut(p, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidPath, p)
	}
	return bucket, prefix, nil
}

// ListNewObjects returns the keys of all objects below prefix, sorted.
// Directory markers are skipped.
func (g *Gateway) ListNewObjects(ctx context.Context, prefix string) ([]string, error) {
	bucket, keyPrefix, err := SplitPath(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	for obj := range g.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, keyPrefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}

	sort.Strings(keys)
	g.logger.Debug("listed objects", "bucket", bucket, "prefix", keyPrefix, "count", len(keys))
	return keys, nil
}

// Upload copies a local file to bucket/key and returns its s3:// URI.
func (g *Gateway) Upload(ctx context.Context, bucket, key, localPath string) (string, error) {
	info, err := g.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("upload %s to %s/%s: %w", localPath, bucket, key, err)
	}
	g.logger.Info("uploaded object", "bucket", bucket, "key", key, "size", info.Size)
	return "s3://" + path.Join(bucket, key), nil
}

// Copy duplicates an object inside the store and returns the destination URI.
func (g *Gateway) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	_, err := g.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return "", fmt.Errorf("copy %s/%s to %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return "s3://" + path.Join(dstBucket, dstKey), nil
}

// CheckBucket verifies credentials and that bucket exists.
func (g *Gateway) CheckBucket(ctx context.Context, bucket string) error {
	ok, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	return nil
}
