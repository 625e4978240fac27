package coastline

import "context"

// Node names. The planning graph is a closed set of four nodes plus the
// decision pseudo-node recorded when a human resumes a suspended thread.
const (
	NodePropose     = "propose"
	NodeToolExecute = "tool_execute"
	NodeAudit       = "audit"
	NodeReview      = "review"
	NodeDecision    = "decision"
)

// CurrentStep values. Every node stamps the step it just completed into the
// state, so routing is a pure function of the persisted snapshot and a resumed
// thread continues exactly where it left off.
const (
	StepStarting         = "starting"
	StepPlanned          = "planned"
	StepToolsExecuted    = "tools_executed"
	StepAudited          = "audited"
	StepAuditRejected    = "audit_rejected"
	StepAwaitingDecision = "awaiting_decision"
	StepApproved         = "approved"
	StepRevising         = "revising"
	StepComplete         = "complete"
	StepFailed           = "failed"
)

// MaxSchemaRetries bounds consecutive malformed-candidate feedback loops
// between the auditor and the proposal step.
const MaxSchemaRetries = 3

// NodeContext identifies where in a thread's history a node is running. The
// parent checkpoint ID keys pending writes staged by the tool fan-out.
type NodeContext struct {
	ThreadID           string
	ParentCheckpointID string
	Step               int
}

// Node is one step of the planning graph. Run never mutates the input state;
// it returns a typed update for the engine to apply and checkpoint.
type Node interface {
	Name() string
	Run(ctx context.Context, nc NodeContext, state *PlanState) (NodeUpdate, error)
}

// route picks the next node from the persisted state alone. An empty return
// means the thread is finished. Reloading a checkpoint and calling route again
// always yields the same answer.
func route(state *PlanState) string {
	switch state.CurrentStep {
	case "", StepStarting:
		return NodePropose
	case StepPlanned:
		if msg, ok := LastAssistantMessage(state.Log); ok && msg.HasToolCalls() {
			return NodeToolExecute
		}
		return NodeAudit
	case StepToolsExecuted:
		return NodePropose
	case StepAuditRejected:
		return NodePropose
	case StepAudited:
		return NodeReview
	case StepApproved:
		return ""
	case StepRevising:
		return NodePropose
	case StepComplete, StepFailed:
		return ""
	default:
		return ""
	}
}
