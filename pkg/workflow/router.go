package workflow

// Route is the terminal branch chosen for a cycle.
type Route int

const (
	RouteEnd Route = iota
	RouteDeploy
	RouteAlert
)

func (r Route) String() string {
	switch r {
	case RouteEnd:
		return "end"
	case RouteDeploy:
		return "deploy"
	case RouteAlert:
		return "alert"
	default:
		return "unknown"
	}
}

type routeRule struct {
	name  string
	match func(s *PipelineState) bool
	next  Route
}

// decisionTable is evaluated top to bottom; the first match wins.
var decisionTable = []routeRule{
	{"no new data", func(s *PipelineState) bool { return s.HasNoNewData() }, RouteEnd},
	{"data rejected", func(s *PipelineState) bool { return s.DataQualityReport != "" }, RouteAlert},
	{"cycle failed", func(s *PipelineState) bool { return s.FailureReport != "" }, RouteAlert},
	{"approved", func(s *PipelineState) bool { return s.DeploymentDecision == DecisionApprove }, RouteDeploy},
	{"rejected", func(*PipelineState) bool { return true }, RouteAlert},
}

// NextRoute picks the terminal branch for s and names the rule that matched.
func NextRoute(s *PipelineState) (Route, string) {
	for _, rule := range decisionTable {
		if rule.match(s) {
			return rule.next, rule.name
		}
	}
	return RouteAlert, "rejected"
}

const rejectedMessage = "model rejected"

// AlertMessage builds the alert text for a state that routed to Alert.
func AlertMessage(s *PipelineState) string {
	switch {
	case s.DataQualityReport != "":
		return "cycle " + s.CycleID + ": data rejected: " + s.DataQualityReport
	case s.FailureReport != "":
		return "cycle " + s.CycleID + ": retraining failed: " + s.FailureReport
	default:
		return "cycle " + s.CycleID + ": " + rejectedMessage + " (candidate " +
			s.CandidateMetrics.String() + ", production " + s.ProductionMetrics.String() + ")"
	}
}

// DeploySummary builds the notification sent after a successful promotion.
func DeploySummary(s *PipelineState) string {
	version := s.ModelVersion
	if version == "" {
		version = "unversioned"
	}
	return "cycle " + s.CycleID + ": deployed model " + version + " from " + s.CandidateModelPath +
		" (candidate " + s.CandidateMetrics.String() + ", previous " + s.ProductionMetrics.String() + ")"
}
