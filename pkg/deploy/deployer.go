// Package deploy promotes an approved candidate: it copies the artifact into
// the production area of the bucket and records it as the serving model.
package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/production"
	"github.com/jguan/retrainer/pkg/workflow"
)

const DefaultProductionPrefix = "production/"

// Uploader moves artifacts into object storage. Local files are uploaded;
// artifacts the training job already wrote to the store are copied
// server-side.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, localPath string) (string, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error)
	ListNewObjects(ctx context.Context, prefix string) ([]string, error)
}

type Config struct {
	Bucket           string
	ProductionPrefix string
}

// RegistryDeployer implements workflow.Deployer. Promotions are serialized so
// two cycles can never interleave uploads for the production slot.
type RegistryDeployer struct {
	mu       sync.Mutex
	cfg      Config
	uploader Uploader
	registry production.Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistryDeployer(cfg Config, uploader Uploader, registry production.Store, l *slog.Logger) (*RegistryDeployer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("deploy: bucket is required")
	}
	if uploader == nil || registry == nil {
		return nil, fmt.Errorf("deploy: uploader and registry are required")
	}
	if cfg.ProductionPrefix == "" {
		cfg.ProductionPrefix = DefaultProductionPrefix
	}
	if l == nil {
		l = logger.Default()
	}
	return &RegistryDeployer{cfg: cfg, uploader: uploader, registry: registry, logger: l, now: time.Now}, nil
}

func (d *RegistryDeployer) Deploy(ctx context.Context, c workflow.Candidate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	version := c.Version
	if version == "" {
		version = c.CycleID
	}
	if version == "" {
		return fmt.Errorf("candidate has neither version nor cycle id")
	}

	base := path.Join(strings.Trim(d.cfg.ProductionPrefix, "/"), version)

	var (
		files int
		err   error
	)
	if strings.HasPrefix(c.ModelPath, "s3://") {
		files, err = d.copyRemote(ctx, c.ModelPath, base)
	} else {
		files, err = d.uploadLocal(ctx, c.ModelPath, base)
	}
	if err != nil {
		return err
	}
	uri := "s3://" + path.Join(d.cfg.Bucket, base) + "/"

	model := &production.Model{
		Version:     version,
		CycleID:     c.CycleID,
		SourcePath:  c.ModelPath,
		ArtifactURI: uri,
		Metrics:     c.Metrics.Clone(),
		DeployedAt:  d.now().UTC(),
	}
	if err := d.registry.Promote(ctx, model); err != nil {
		return fmt.Errorf("record production model %s: %w", version, err)
	}

	logger.Enrich(ctx, d.logger).Info("model promoted",
		"version", version, "artifact", uri, "files", files, "metrics", c.Metrics.String())
	return nil
}

func (d *RegistryDeployer) uploadLocal(ctx context.Context, modelPath, base string) (int, error) {
	files, err := artifactFiles(modelPath)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		key := path.Join(base, filepath.ToSlash(f.rel))
		if _, err := d.uploader.Upload(ctx, d.cfg.Bucket, key, f.abs); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// copyRemote promotes an artifact that already lives in object storage. A
// URI ending in "/" is a directory; otherwise it names a single object.
func (d *RegistryDeployer) copyRemote(ctx context.Context, uri, base string) (int, error) {
	bucket, prefix, ok := strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	if !ok || bucket == "" || prefix == "" {
		return 0, fmt.Errorf("model artifact: invalid object URI %q", uri)
	}

	keys, err := d.uploader.ListNewObjects(ctx, bucket+"/"+prefix)
	if err != nil {
		return 0, fmt.Errorf("model artifact: %w", err)
	}

	copied := 0
	for _, key := range keys {
		var rel string
		switch {
		case strings.HasSuffix(prefix, "/"):
			rel = strings.TrimPrefix(key, prefix)
		case key == prefix:
			rel = path.Base(key)
		case strings.HasPrefix(key, prefix+"/"):
			rel = strings.TrimPrefix(key, prefix+"/")
		default:
			// A sibling sharing the name prefix, e.g. model.pkl.bak.
			continue
		}
		if _, err := d.uploader.Copy(ctx, bucket, key, d.cfg.Bucket, path.Join(base, rel)); err != nil {
			return copied, err
		}
		copied++
	}
	if copied == 0 {
		return 0, fmt.Errorf("model artifact %s: no objects found", uri)
	}
	return copied, nil
}

type artifactFile struct {
	abs string
	rel string
}

// artifactFiles expands a model path into the files to upload. A single file
// keeps its base name; a directory is uploaded recursively.
func artifactFiles(modelPath string) ([]artifactFile, error) {
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model artifact: %w", err)
	}
	if !info.IsDir() {
		return []artifactFile{{abs: modelPath, rel: filepath.Base(modelPath)}}, nil
	}

	var files []artifactFile
	err = filepath.WalkDir(modelPath, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(modelPath, p)
		if err != nil {
			return err
		}
		files = append(files, artifactFile{abs: p, rel: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk model artifact: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("model artifact %s is an empty directory", modelPath)
	}
	return files, nil
}

var _ workflow.Deployer = (*RegistryDeployer)(nil)
