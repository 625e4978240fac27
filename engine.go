package coastline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/coastline/retry"
)

// Outcome statuses.
const (
	OutcomeSuspended = "suspended"
	OutcomeComplete  = "complete"
	OutcomeFailed    = "failed"
)

// Outcome is the result of driving a thread until it suspends or terminates.
type Outcome struct {
	ThreadID string
	Status   string
	State    *PlanState

	// Preview is set when Status is OutcomeSuspended.
	Preview *Preview

	// FailReason is set when Status is OutcomeFailed.
	FailReason string
}

// EngineOptions configures a planning engine.
type EngineOptions struct {
	Store      CheckpointStore
	Propose    Node
	Audit      Node
	Review     Node
	Tools      Node
	Logger     *slog.Logger
	StepLogger StepLogger

	// Events, when set, receives progress notifications as threads execute.
	Events EventPublisher

	// MaxSteps caps node executions per thread lifetime. Zero means the
	// default of 50.
	MaxSteps int

	// StepRetries is the number of automatic retries for a transient node
	// failure. Zero means the default of 3.
	StepRetries int

	// RetryBaseWait is the delay before the first step retry. Zero means
	// one second.
	RetryBaseWait time.Duration
}

// Engine drives planning threads through the node graph, checkpointing after
// every node. It holds no per-thread state: everything it needs to continue a
// thread is in the store, so any engine instance can resume any thread.
type Engine struct {
	store         CheckpointStore
	nodes         map[string]Node
	logger        *slog.Logger
	stepLogger    StepLogger
	events        EventPublisher
	maxSteps      int
	stepRetries   int
	retryBaseWait time.Duration
}

// NewEngine validates the options and returns a ready engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if opts.Propose == nil || opts.Audit == nil || opts.Review == nil || opts.Tools == nil {
		return nil, fmt.Errorf("all four graph nodes are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger()
	}
	stepLogger := opts.StepLogger
	if stepLogger == nil {
		stepLogger = NewNullStepLogger()
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 50
	}
	stepRetries := opts.StepRetries
	if stepRetries <= 0 {
		stepRetries = 3
	}
	retryBaseWait := opts.RetryBaseWait
	if retryBaseWait <= 0 {
		retryBaseWait = time.Second
	}
	return &Engine{
		store: opts.Store,
		nodes: map[string]Node{
			NodePropose:     opts.Propose,
			NodeToolExecute: opts.Tools,
			NodeAudit:       opts.Audit,
			NodeReview:      opts.Review,
		},
		logger:        logger,
		stepLogger:    stepLogger,
		events:        opts.Events,
		maxSteps:      maxSteps,
		stepRetries:   stepRetries,
		retryBaseWait: retryBaseWait,
	}, nil
}

// Run starts a fresh thread and drives it until it suspends for review,
// completes, or fails. Thread IDs are never reused; starting an existing
// thread is a protocol error.
func (e *Engine) Run(ctx context.Context, threadID string, prefs Preferences) (*Outcome, error) {
	return e.RunWithHint(ctx, threadID, prefs, "")
}

// RunWithHint starts a fresh thread whose opening prompt carries a summary of
// a previous attempt. Used by the budget replanner.
func (e *Engine) RunWithHint(ctx context.Context, threadID string, prefs Preferences, hint string) (*Outcome, error) {
	existing, err := e.store.GetLatest(ctx, threadID, DefaultNamespace)
	if err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	if existing != nil {
		return nil, NewPlanError(ErrorTypeClientProtocol, fmt.Sprintf("thread %s already exists", threadID))
	}

	state := NewPlanState(prefs)
	state.ReplanHint = hint
	cp, err := NewCheckpoint(threadID, CheckpointSeq(0), "", state, CheckpointMetadata{Step: 0, Node: "input"})
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, cp); err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	return e.loop(ctx, threadID, state, 0)
}

// Resume applies a decision to a suspended thread and drives it onward. The
// decision is validated before any state is touched, and applying it is
// idempotent with respect to the loaded snapshot.
func (e *Engine) Resume(ctx context.Context, threadID string, decision Decision) (*Outcome, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	cp, err := e.store.GetLatest(ctx, threadID, DefaultNamespace)
	if err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	if cp == nil {
		return nil, NewPlanError(ErrorTypeClientProtocol, fmt.Sprintf("unknown thread %s", threadID))
	}
	meta, err := cp.DecodeMetadata()
	if err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	if !meta.Suspended {
		return nil, NewPlanError(ErrorTypeClientProtocol, fmt.Sprintf("thread %s is not awaiting a decision", threadID))
	}
	state, err := cp.DecodeState()
	if err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}

	next := Apply(state, decisionUpdate(decision))
	seq := meta.Step + 1
	if err := e.writeCheckpoint(ctx, threadID, seq, next, NodeDecision, false); err != nil {
		return nil, err
	}
	e.logger.Info("decision applied",
		"thread_id", threadID, "action", decision.Action, "revision_count", next.RevisionCount)
	return e.loop(ctx, threadID, next, seq)
}

// LatestState returns the most recent persisted snapshot for a thread, or nil
// when the thread has none.
func (e *Engine) LatestState(ctx context.Context, threadID string) (*PlanState, error) {
	cp, err := e.store.GetLatest(ctx, threadID, DefaultNamespace)
	if err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	if cp == nil {
		return nil, nil
	}
	return cp.DecodeState()
}

// loop runs nodes until the router yields no successor or the thread
// suspends. seq is the sequence number of the latest written checkpoint.
func (e *Engine) loop(ctx context.Context, threadID string, state *PlanState, seq int) (*Outcome, error) {
	for {
		name := route(state)
		if name == "" {
			return e.finalize(ctx, threadID, state, seq)
		}
		if seq >= e.maxSteps {
			return e.fail(ctx, threadID, state, seq,
				fmt.Sprintf("step ceiling of %d reached", e.maxSteps))
		}

		node := e.nodes[name]
		nc := NodeContext{
			ThreadID:           threadID,
			ParentCheckpointID: CheckpointSeq(seq),
			Step:               seq + 1,
		}

		started := time.Now()
		var update NodeUpdate
		err := retry.Do(ctx, func() error {
			u, runErr := node.Run(ctx, nc, state)
			if runErr != nil {
				if IsRetryable(runErr) {
					return retry.NewRecoverableError(runErr)
				}
				return retry.NewNonRecoverableError(runErr)
			}
			update = u
			return nil
		},
			retry.WithMaxRetries(e.stepRetries),
			retry.WithBaseWait(e.retryBaseWait),
			retry.WithJitter(true),
		)
		duration := time.Since(started).Seconds()
		if err != nil {
			e.logStep(ctx, &StepLogEntry{
				ThreadID:     threadID,
				CheckpointID: CheckpointSeq(seq + 1),
				Node:         name,
				Step:         seq + 1,
				Error:        err.Error(),
				StartTime:    started.UTC(),
				Duration:     duration,
			})
			e.logger.Error("node failed", "thread_id", threadID, "node", name, "error", err)
			return e.fail(ctx, threadID, state, seq, err.Error())
		}

		state = Apply(state, update)
		seq++
		suspended := update.Interrupt != nil
		if err := e.writeCheckpoint(ctx, threadID, seq, state, name, suspended); err != nil {
			return nil, err
		}
		e.logStep(ctx, &StepLogEntry{
			ThreadID:     threadID,
			CheckpointID: CheckpointSeq(seq),
			Node:         name,
			Step:         seq,
			Suspended:    suspended,
			StartTime:    started.UTC(),
			Duration:     duration,
		})
		e.logger.Info("node completed",
			"thread_id", threadID, "node", name, "step", seq, "current_step", state.CurrentStep)
		e.publishStepEvents(ctx, threadID, name, update)

		if suspended {
			return &Outcome{
				ThreadID: threadID,
				Status:   OutcomeSuspended,
				State:    state,
				Preview:  update.Interrupt,
			}, nil
		}
	}
}

// finalize stamps the terminal step and reports how the thread ended.
func (e *Engine) finalize(ctx context.Context, threadID string, state *PlanState, seq int) (*Outcome, error) {
	if state.Approved {
		state = Apply(state, NodeUpdate{CurrentStep: StepComplete})
		if err := e.writeCheckpoint(ctx, threadID, seq+1, state, "finalize", false); err != nil {
			return nil, err
		}
		return &Outcome{ThreadID: threadID, Status: OutcomeComplete, State: state}, nil
	}
	return e.fail(ctx, threadID, state, seq,
		fmt.Sprintf("thread ended at step %q without approval", state.CurrentStep))
}

func (e *Engine) fail(ctx context.Context, threadID string, state *PlanState, seq int, reason string) (*Outcome, error) {
	state = Apply(state, NodeUpdate{CurrentStep: StepFailed})
	if err := e.writeCheckpoint(ctx, threadID, seq+1, state, "finalize", false); err != nil {
		return nil, err
	}
	return &Outcome{
		ThreadID:   threadID,
		Status:     OutcomeFailed,
		State:      state,
		FailReason: reason,
	}, nil
}

func (e *Engine) writeCheckpoint(ctx context.Context, threadID string, seq int, state *PlanState, node string, suspended bool) error {
	cp, err := NewCheckpoint(threadID, CheckpointSeq(seq), CheckpointSeq(seq-1), state, CheckpointMetadata{
		Step:      seq,
		Node:      node,
		Suspended: suspended,
	})
	if err != nil {
		return err
	}
	if err := e.store.Put(ctx, cp); err != nil {
		return WrapError(ErrorTypePersistence, err)
	}
	return nil
}

// publishStepEvents turns a node's log additions into progress events. Nodes
// stay pure; the engine derives tool call/result events from the messages
// they append.
func (e *Engine) publishStepEvents(ctx context.Context, threadID, node string, update NodeUpdate) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, Event{
		Type:     EventStatus,
		ThreadID: threadID,
		Data:     map[string]string{"node": node, "step": update.CurrentStep},
	})
	for _, msg := range update.AppendLog {
		switch {
		case msg.Role == RoleAssistant && msg.HasToolCalls():
			for _, call := range msg.ToolCalls {
				e.events.Publish(ctx, Event{
					Type:     EventToolCall,
					ThreadID: threadID,
					Data:     map[string]any{"id": call.ID, "tool": call.Kind, "input": call.Input},
				})
			}
		case msg.Role == RoleTool:
			e.events.Publish(ctx, Event{
				Type:     EventToolResult,
				ThreadID: threadID,
				Data:     map[string]any{"id": msg.ToolCallID, "tool": msg.ToolKind, "is_error": msg.IsError},
			})
		}
	}
}

func (e *Engine) logStep(ctx context.Context, entry *StepLogEntry) {
	if err := e.stepLogger.LogStep(ctx, entry); err != nil {
		e.logger.Warn("step log write failed", "thread_id", entry.ThreadID, "error", err)
	}
}
