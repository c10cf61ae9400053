package policy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jguan/retrainer/pkg/workflow"
)

// ObjectAssessor rejects a batch that is too small or contains files with
// extensions outside AllowedExtensions. An empty allow-list accepts any file.
type ObjectAssessor struct {
	storage           workflow.StorageGateway
	minObjects        int
	allowedExtensions map[string]bool
}

func NewObjectAssessor(storage workflow.StorageGateway, minObjects int, allowedExtensions []string) *ObjectAssessor {
	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	if minObjects < 1 {
		minObjects = 1
	}
	return &ObjectAssessor{storage: storage, minObjects: minObjects, allowedExtensions: allowed}
}

func (a *ObjectAssessor) Assess(ctx context.Context, dataPath string) (string, error) {
	keys, err := a.storage.ListNewObjects(ctx, strings.TrimPrefix(dataPath, "s3://"))
	if err != nil {
		return "", err
	}

	if len(keys) < a.minObjects {
		return fmt.Sprintf("found %d objects, need at least %d", len(keys), a.minObjects), nil
	}

	if len(a.allowedExtensions) == 0 {
		return "", nil
	}
	var bad []string
	for _, k := range keys {
		if !a.allowedExtensions[strings.ToLower(path.Ext(k))] {
			bad = append(bad, k)
		}
	}
	switch len(bad) {
	case 0:
		return "", nil
	case 1:
		return fmt.Sprintf("unsupported file type: %s", bad[0]), nil
	default:
		return fmt.Sprintf("unsupported file types: %s (+%d more)", bad[0], len(bad)-1), nil
	}
}

var _ workflow.QualityAssessor = (*ObjectAssessor)(nil)
