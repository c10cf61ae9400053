package workflow

import "context"

// StorageGateway lists objects that arrived under a "<bucket>/<prefix>" path.
type StorageGateway interface {
	ListNewObjects(ctx context.Context, prefix string) ([]string, error)
}

// QualityAssessor inspects the data at dataPath. A non-empty reason rejects it.
type QualityAssessor interface {
	Assess(ctx context.Context, dataPath string) (reason string, err error)
}

// BaselineProvider returns the metrics of the model currently in production.
// An empty map means nothing has been deployed yet.
type BaselineProvider interface {
	ProductionMetrics(ctx context.Context) (Metrics, error)
}

type TrainingResult struct {
	ModelPath string
	Version   string
	Metrics   Metrics
	// ProductionMetrics, when set, replaces the stored baseline, e.g. when the
	// trainer re-scores the production model on the new data.
	ProductionMetrics Metrics
}

type Trainer interface {
	Train(ctx context.Context, dataPath string, baseline Metrics) (*TrainingResult, error)
}

// ArtifactReleaser is implemented by trainers that keep per-cycle files on
// the host. The engine calls it once the cycle is finished with them.
type ArtifactReleaser interface {
	ReleaseArtifacts(ctx context.Context, cycleID string) error
}

type Comparator interface {
	Compare(ctx context.Context, candidate, production Metrics) (Decision, error)
}

// Candidate is what Deploy promotes.
type Candidate struct {
	CycleID    string
	ModelPath  string
	Version    string
	Metrics    Metrics
	Production Metrics
}

type Deployer interface {
	Deploy(ctx context.Context, c Candidate) error
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Collaborators bundles the external dependencies of an Engine. Baseline is
// optional; everything else is required.
type Collaborators struct {
	Storage    StorageGateway
	Assessor   QualityAssessor
	Baseline   BaselineProvider
	Trainer    Trainer
	Comparator Comparator
	Deployer   Deployer
	Notifier   Notifier
}

func (c Collaborators) validate() error {
	missing := func(name string) error {
		return &StageError{Kind: KindConfig, Message: name, Cause: ErrMissingCollaborator}
	}
	switch {
	case c.Storage == nil:
		return missing("storage gateway")
	case c.Assessor == nil:
		return missing("quality assessor")
	case c.Trainer == nil:
		return missing("trainer")
	case c.Comparator == nil:
		return missing("comparator")
	case c.Deployer == nil:
		return missing("deployer")
	case c.Notifier == nil:
		return missing("notifier")
	}
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string) error

func (f NotifierFunc) Notify(ctx context.Context, message string) error {
	return f(ctx, message)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(ctx context.Context, candidate, production Metrics) (Decision, error)

func (f ComparatorFunc) Compare(ctx context.Context, candidate, production Metrics) (Decision, error) {
	return f(ctx, candidate, production)
}
