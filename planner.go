package coastline

import (
	"context"
	"fmt"
	"time"
)

// ProposeNode asks the generation service for the next itinerary candidate or
// tool call batch. On a fresh thread it seeds the log with the system prompt
// and the rendered preferences; on re-entry it appends corrective context
// first when the previous candidate blew the budget.
type ProposeNode struct {
	client GenerationClient
	tools  []ToolDefinition
	now    func() time.Time
}

// NewProposeNode wires the generation client. The clock is injectable for
// tests; nil means time.Now.
func NewProposeNode(client GenerationClient, now func() time.Time) (*ProposeNode, error) {
	if client == nil {
		return nil, fmt.Errorf("generation client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &ProposeNode{
		client: client,
		tools:  ToolDefinitions(),
		now:    now,
	}, nil
}

func (n *ProposeNode) Name() string { return NodePropose }

func (n *ProposeNode) Run(ctx context.Context, nc NodeContext, state *PlanState) (NodeUpdate, error) {
	var update NodeUpdate
	update.CurrentStep = StepPlanned

	log := state.Log
	if len(log) == 0 {
		seed := []Message{
			{Role: RoleSystem, Content: PlannerSystemPrompt(n.now())},
			{Role: RoleUser, Content: n.openingPrompt(state)},
		}
		update.AppendLog = append(update.AppendLog, seed...)
		log = append(copyMessages(log), seed...)
	} else if state.CurrentStep == StepRevising && state.BudgetVerdict == VerdictOver && state.TotalCost != nil {
		alert := Message{Role: RoleUser, Content: BudgetAlertPrompt(*state.TotalCost, state.Preferences.BudgetLimit)}
		update.AppendLog = append(update.AppendLog, alert)
		log = append(copyMessages(log), alert)
	}

	resp, err := n.client.Generate(ctx, GenerationRequest{
		Messages: log,
		Tools:    n.tools,
	})
	if err != nil {
		return NodeUpdate{}, fmt.Errorf("generation failed: %w", err)
	}

	update.AppendLog = append(update.AppendLog, Message{
		Role:      RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	return update, nil
}

func (n *ProposeNode) openingPrompt(state *PlanState) string {
	prompt := PreferencesPrompt(state.Preferences)
	if state.ReplanHint != "" {
		prompt += "\n" + state.ReplanHint
	}
	return prompt
}
