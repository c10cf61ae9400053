package production

import (
	"time"

	"github.com/jguan/retrainer/pkg/workflow"
)

// Model is one entry in the production history. The newest entry is the
// model currently serving traffic.
type Model struct {
	Version     string           `json:"version" yaml:"version"`
	CycleID     string           `json:"cycle_id" yaml:"cycle_id"`
	SourcePath  string           `json:"source_path" yaml:"source_path"`
	ArtifactURI string           `json:"artifact_uri" yaml:"artifact_uri"`
	Metrics     workflow.Metrics `json:"metrics" yaml:"metrics"`
	DeployedAt  time.Time        `json:"deployed_at" yaml:"deployed_at"`
}
