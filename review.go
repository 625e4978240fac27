package coastline

import (
	"context"
)

// Preview is the snapshot presented to the approver while a thread is
// suspended. It carries everything needed to decide without loading the
// thread.
type Preview struct {
	Itinerary     *Itinerary     `json:"itinerary"`
	TotalCost     float64        `json:"total_cost"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown"`
	BudgetVerdict BudgetVerdict  `json:"budget_status"`
	BudgetLimit   float64        `json:"budget_limit"`
	RevisionCount int            `json:"revision_count"`
}

// ReviewNode suspends the thread for a human decision. It holds no resources
// while suspended: the interrupt is checkpointed and the goroutine returns.
type ReviewNode struct{}

// NewReviewNode returns the review step.
func NewReviewNode() *ReviewNode { return &ReviewNode{} }

func (n *ReviewNode) Name() string { return NodeReview }

func (n *ReviewNode) Run(ctx context.Context, nc NodeContext, state *PlanState) (NodeUpdate, error) {
	if state.Itinerary == nil || state.TotalCost == nil {
		return NodeUpdate{}, NewPlanError(ErrorTypeStructural, "review reached without an audited candidate")
	}
	preview := &Preview{
		Itinerary:     state.Itinerary,
		TotalCost:     *state.TotalCost,
		CostBreakdown: state.CostBreakdown,
		BudgetVerdict: state.BudgetVerdict,
		BudgetLimit:   state.Preferences.BudgetLimit,
		RevisionCount: state.RevisionCount,
	}
	return NodeUpdate{
		CurrentStep: StepAwaitingDecision,
		Interrupt:   preview,
	}, nil
}
