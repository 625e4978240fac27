package coastline

// BudgetVerdict is the auditor's judgement of a candidate against the budget
// ceiling. It stays VerdictUnknown until the auditor has validated a
// candidate, and is recomputed (never merged) on every auditor pass.
type BudgetVerdict string

const (
	VerdictUnknown BudgetVerdict = "unknown"
	VerdictUnder   BudgetVerdict = "under"
	VerdictOver    BudgetVerdict = "over"
)

// Preferences is the immutable trip input for one planning thread. The budget
// ceiling is the single field a revise decision may replace, once per
// revision.
type Preferences struct {
	Origin       string   `json:"origin"`
	Destinations []string `json:"destinations"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Travelers    int      `json:"travelers"`
	BudgetLimit  float64  `json:"budget_limit"`
}

// PlanState is the unit of persistence for one workflow thread. It is fully
// JSON serializable: everything a node needs to decide its behavior and
// everything the router needs to pick the next step lives here. The engine
// holds no state of its own.
type PlanState struct {
	Log         []Message   `json:"log"`
	Preferences Preferences `json:"preferences"`

	Itinerary     *Itinerary     `json:"itinerary,omitempty"`
	TotalCost     *float64       `json:"total_cost,omitempty"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown,omitempty"`
	BudgetVerdict BudgetVerdict  `json:"budget_verdict"`
	Approved      bool           `json:"approved"`
	RevisionCount int            `json:"revision_count"`
	CurrentStep   string         `json:"current_step"`

	// SchemaRetryCount tracks consecutive malformed candidates. Reset on
	// every structurally valid candidate.
	SchemaRetryCount int `json:"schema_retry_count,omitempty"`

	// ReplanHint carries the previous attempt's summary when the outer
	// budget loop starts a fresh thread. Empty on first attempts.
	ReplanHint string `json:"replan_hint,omitempty"`
}

// NewPlanState returns the initial state for a fresh thread.
func NewPlanState(prefs Preferences) *PlanState {
	return &PlanState{
		Preferences:   prefs,
		BudgetVerdict: VerdictUnknown,
		CurrentStep:   "starting",
	}
}

// Copy returns a deep enough copy for checkpoint isolation: the log slice is
// duplicated and pointer fields are re-boxed, so applying an update to the
// copy never mutates the original snapshot.
func (s *PlanState) Copy() *PlanState {
	out := *s
	out.Log = copyMessages(s.Log)
	if s.TotalCost != nil {
		v := *s.TotalCost
		out.TotalCost = &v
	}
	if s.CostBreakdown != nil {
		b := *s.CostBreakdown
		out.CostBreakdown = &b
	}
	if s.Itinerary != nil {
		it := *s.Itinerary
		out.Itinerary = &it
	}
	return &out
}

// NodeUpdate is the typed output of one node execution. Every field is
// explicit: a node states exactly which parts of the state it produces, and
// Apply makes the mutation total. There are no partial map merges.
type NodeUpdate struct {
	AppendLog []Message

	Itinerary     *Itinerary
	TotalCost     *float64
	CostBreakdown *CostBreakdown

	// SetVerdict indicates the verdict field should be replaced (the
	// auditor recomputes it on every pass; other nodes leave it alone).
	SetVerdict bool
	Verdict    BudgetVerdict

	// ClearAudit resets itinerary/cost fields; used by the auditor when a
	// candidate fails to parse so stale audit data never survives.
	ClearAudit bool

	Approved          bool
	IncrementRevision bool
	NewBudget         *float64
	CurrentStep       string

	IncrementSchemaRetry bool
	ResetSchemaRetry     bool

	// Interrupt, when non-nil, suspends the thread after this update is
	// applied and checkpointed. See ReviewNode.
	Interrupt *Preview
}

// Apply returns a new state with the update folded in, leaving the input
// untouched. Resume idempotency depends on this: replaying a decision
// re-applies the update to the loaded snapshot rather than mutating it in
// place.
func Apply(s *PlanState, u NodeUpdate) *PlanState {
	next := s.Copy()
	next.Log = append(next.Log, u.AppendLog...)
	if u.ClearAudit {
		next.Itinerary = nil
		next.TotalCost = nil
		next.CostBreakdown = nil
	}
	if u.Itinerary != nil {
		next.Itinerary = u.Itinerary
	}
	if u.TotalCost != nil {
		next.TotalCost = u.TotalCost
	}
	if u.CostBreakdown != nil {
		next.CostBreakdown = u.CostBreakdown
	}
	if u.SetVerdict {
		next.BudgetVerdict = u.Verdict
	}
	if u.Approved {
		next.Approved = true
	}
	if u.IncrementRevision {
		next.RevisionCount++
	}
	if u.IncrementSchemaRetry {
		next.SchemaRetryCount++
	}
	if u.ResetSchemaRetry {
		next.SchemaRetryCount = 0
	}
	if u.NewBudget != nil {
		next.Preferences.BudgetLimit = *u.NewBudget
	}
	if u.CurrentStep != "" {
		next.CurrentStep = u.CurrentStep
	}
	return next
}
