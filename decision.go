package coastline

import "fmt"

// Decision actions. The set is closed; anything else is a protocol error and
// leaves the suspended thread untouched.
const (
	DecisionApprove = "approve"
	DecisionRevise  = "revise"
)

// Decision is the human response to a suspended thread. Feedback and
// NewBudget apply to revise only.
type Decision struct {
	Action    string   `json:"action"`
	Feedback  string   `json:"feedback,omitempty"`
	NewBudget *float64 `json:"new_budget,omitempty"`
}

// Validate rejects malformed decisions before any state is touched.
func (d Decision) Validate() error {
	switch d.Action {
	case DecisionApprove:
		return nil
	case DecisionRevise:
		if d.NewBudget != nil && *d.NewBudget <= 0 {
			return NewPlanError(ErrorTypeClientProtocol, "new_budget must be positive")
		}
		return nil
	default:
		return NewPlanError(ErrorTypeClientProtocol,
			fmt.Sprintf("unknown decision action %q (expected %q or %q)", d.Action, DecisionApprove, DecisionRevise))
	}
}

// decisionUpdate translates a validated decision into the state update the
// engine applies at the resume boundary. Applying the same decision to the
// same snapshot twice yields the same state.
func decisionUpdate(d Decision) NodeUpdate {
	if d.Action == DecisionApprove {
		return NodeUpdate{
			Approved:    true,
			CurrentStep: StepApproved,
		}
	}
	return NodeUpdate{
		AppendLog:         []Message{{Role: RoleUser, Content: RevisionPrompt(d.Feedback)}},
		IncrementRevision: true,
		NewBudget:         d.NewBudget,
		CurrentStep:       StepRevising,
	}
}
