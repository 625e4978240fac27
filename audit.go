package coastline

import (
	"context"
	"fmt"
)

// AuditNode validates the latest candidate and recomputes its cost. It is the
// only node allowed to set the budget verdict, and it always replaces rather
// than merges: stale audit data never survives a failed candidate.
type AuditNode struct {
	auditor *Auditor
}

// NewAuditNode builds the node around a compiled auditor.
func NewAuditNode(auditor *Auditor) (*AuditNode, error) {
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}
	return &AuditNode{auditor: auditor}, nil
}

func (n *AuditNode) Name() string { return NodeAudit }

func (n *AuditNode) Run(ctx context.Context, nc NodeContext, state *PlanState) (NodeUpdate, error) {
	last, ok := LastAssistantMessage(state.Log)
	if !ok {
		return NodeUpdate{}, NewPlanError(ErrorTypeStructural, "no candidate itinerary to audit")
	}

	result, fieldErrs := n.auditor.Audit(last.Content, state.Preferences.BudgetLimit)
	if len(fieldErrs) > 0 {
		if state.SchemaRetryCount >= MaxSchemaRetries {
			return NodeUpdate{}, &PlanError{
				Type:    ErrorTypeFatal,
				Cause:   fmt.Sprintf("candidate still malformed after %d attempts", MaxSchemaRetries),
				Details: fieldErrs,
			}
		}
		feedback := ValidationFeedbackPrompt(fieldErrs)
		if isParseFailure(fieldErrs) {
			feedback = ParseFeedbackPrompt(fieldErrs[0].Message)
		}
		return NodeUpdate{
			AppendLog:            []Message{{Role: RoleUser, Content: feedback}},
			ClearAudit:           true,
			SetVerdict:           true,
			Verdict:              VerdictUnknown,
			IncrementSchemaRetry: true,
			CurrentStep:          StepAuditRejected,
		}, nil
	}

	total := result.Breakdown.GrandTotal
	breakdown := result.Breakdown
	return NodeUpdate{
		Itinerary:        result.Itinerary,
		TotalCost:        &total,
		CostBreakdown:    &breakdown,
		SetVerdict:       true,
		Verdict:          result.Verdict,
		ResetSchemaRetry: true,
		CurrentStep:      StepAudited,
	}, nil
}
