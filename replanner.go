package coastline

import (
	"context"
	"fmt"
	"log/slog"

	"go.jetify.com/typeid"
)

const (
	// DefaultMaxAttempts is the replanner's attempt ceiling when none is
	// configured. Valid values are 1 through 10.
	DefaultMaxAttempts = 5
	MinAttempts        = 1
	MaxAttempts        = 10

	// DefaultCloseEnough stops replanning once an over-budget plan is
	// within this many dollars of the ceiling. Shaving the last few
	// dollars rarely survives contact with real prices.
	DefaultCloseEnough = 50.0
)

// NewAttemptThreadID returns a new prefixed identifier for one replanner
// attempt.
func NewAttemptThreadID() string {
	id, err := typeid.WithPrefix("attempt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ReplannerOptions configures the iterative budget loop.
type ReplannerOptions struct {
	Engine *Engine

	// MaxAttempts bounds the number of planning threads. Zero means
	// DefaultMaxAttempts; anything else outside 1 through 10 is rejected.
	MaxAttempts int

	// CloseEnough is the early-stop shortfall in dollars. Zero means
	// DefaultCloseEnough.
	CloseEnough float64

	// CategoryBudgets, when set, gives per-category ceilings used to tell
	// the next attempt exactly which buckets to cut. GrandTotal is ignored;
	// the overall ceiling comes from the trip preferences.
	CategoryBudgets *CostBreakdown

	Logger *slog.Logger

	// NewThreadID is injectable for tests; nil means NewAttemptThreadID.
	NewThreadID func() string
}

// ReplanOutcome reports how the budget loop ended. When Verdict is VerdictOver
// the state carries the best attempt seen, the one with the smallest
// shortfall, not the last one.
type ReplanOutcome struct {
	ThreadID  string
	State     *PlanState
	Verdict   BudgetVerdict
	Attempts  int
	Shortfall float64
}

// Replanner runs planning threads until one lands under budget or attempts
// run out. Each attempt is an independent thread whose opening prompt carries
// a summary of the previous attempt's shape and overruns.
type Replanner struct {
	engine          *Engine
	maxAttempts     int
	closeEnough     float64
	categoryBudgets *CostBreakdown
	logger          *slog.Logger
	newThreadID     func() string
}

// NewReplanner validates the options and returns a ready replanner.
func NewReplanner(opts ReplannerOptions) (*Replanner, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts < MinAttempts || maxAttempts > MaxAttempts {
		return nil, NewPlanError(ErrorTypeClientProtocol,
			fmt.Sprintf("max attempts must be between %d and %d", MinAttempts, MaxAttempts))
	}
	closeEnough := opts.CloseEnough
	if closeEnough == 0 {
		closeEnough = DefaultCloseEnough
	}
	if closeEnough < 0 {
		return nil, NewPlanError(ErrorTypeClientProtocol, "close-enough threshold must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger()
	}
	newThreadID := opts.NewThreadID
	if newThreadID == nil {
		newThreadID = NewAttemptThreadID
	}
	return &Replanner{
		engine:          opts.Engine,
		maxAttempts:     maxAttempts,
		closeEnough:     closeEnough,
		categoryBudgets: opts.CategoryBudgets,
		logger:          logger,
		newThreadID:     newThreadID,
	}, nil
}

// Plan runs the budget loop. Attempts auto-approve at the review suspension
// point; the human-in-the-loop protocol belongs to interactive sessions, and
// here the loop itself is the approval policy.
func (r *Replanner) Plan(ctx context.Context, prefs Preferences) (*ReplanOutcome, error) {
	if err := ValidatePreferences(prefs); err != nil {
		return nil, err
	}

	var best *ReplanOutcome
	var lastErr error
	hint := ""
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		threadID := r.newThreadID()
		outcome, err := r.runAttempt(ctx, threadID, prefs, hint)
		if err != nil {
			r.logger.Warn("attempt failed", "attempt", attempt, "thread_id", threadID, "error", err)
			lastErr = err
			continue
		}
		state := outcome.State
		if state.TotalCost == nil || state.CostBreakdown == nil {
			lastErr = fmt.Errorf("attempt %d finished without an audited cost", attempt)
			continue
		}
		total := *state.TotalCost
		r.logger.Info("attempt audited",
			"attempt", attempt, "thread_id", threadID, "total", total, "budget", prefs.BudgetLimit,
			"within_budget", state.CostBreakdown.WithinBudget(r.categoryBudgets))

		if state.BudgetVerdict == VerdictUnder {
			return &ReplanOutcome{
				ThreadID: threadID,
				State:    state,
				Verdict:  VerdictUnder,
				Attempts: attempt,
			}, nil
		}

		shortfall := round2(total - prefs.BudgetLimit)
		if best == nil || shortfall < best.Shortfall {
			best = &ReplanOutcome{
				ThreadID:  threadID,
				State:     state,
				Verdict:   VerdictOver,
				Attempts:  attempt,
				Shortfall: shortfall,
			}
		}
		if shortfall <= r.closeEnough {
			r.logger.Info("stopping close to budget", "attempt", attempt, "shortfall", shortfall)
			break
		}
		hint = ReplanHintPrompt(attempt+1, state.CostBreakdown, state.Itinerary, r.shortfalls(state, prefs))
	}

	if best == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("all %d attempts failed: %w", r.maxAttempts, lastErr)
		}
		return nil, fmt.Errorf("no attempt produced an audited plan")
	}
	return best, nil
}

func (r *Replanner) runAttempt(ctx context.Context, threadID string, prefs Preferences, hint string) (*Outcome, error) {
	outcome, err := r.engine.RunWithHint(ctx, threadID, prefs, hint)
	if err != nil {
		return nil, err
	}
	if outcome.Status == OutcomeSuspended {
		outcome, err = r.engine.Resume(ctx, threadID, Decision{Action: DecisionApprove})
		if err != nil {
			return nil, err
		}
	}
	if outcome.Status != OutcomeComplete {
		return nil, fmt.Errorf("attempt ended %s: %s", outcome.Status, outcome.FailReason)
	}
	return outcome, nil
}

// shortfalls computes the per-bucket overruns fed into the next attempt's
// hint. With category budgets configured, each bucket reports its own
// overrun; otherwise the whole overrun lands on "total".
func (r *Replanner) shortfalls(state *PlanState, prefs Preferences) map[string]float64 {
	out := map[string]float64{}
	b := state.CostBreakdown
	if r.categoryBudgets == nil {
		if state.TotalCost != nil && *state.TotalCost > prefs.BudgetLimit {
			out["total"] = round2(*state.TotalCost - prefs.BudgetLimit)
		}
		return out
	}
	if over := b.FlightsTotal - r.categoryBudgets.FlightsTotal; over > 0 {
		out["flights"] = round2(over)
	}
	if over := b.HotelsTotal - r.categoryBudgets.HotelsTotal; over > 0 {
		out["hotels"] = round2(over)
	}
	if over := b.ActivitiesTotal - r.categoryBudgets.ActivitiesTotal; over > 0 {
		out["activities"] = round2(over)
	}
	return out
}
