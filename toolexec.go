package coastline

import (
	"context"
	"encoding/json"
	"fmt"
)

// writeChannelToolResult is the pending-write channel for staged tool output.
const writeChannelToolResult = "tool_result"

// ToolExecuteNode runs the tool calls requested by the latest assistant
// message. Each completed call is staged as a pending write keyed by its call
// ID before the batch result is folded into a checkpoint, so a crash mid
// fan-out resumes without redoing finished calls.
type ToolExecuteNode struct {
	toolbox *Toolbox
	store   CheckpointStore
}

// NewToolExecuteNode wires the toolbox and the store used for staging.
func NewToolExecuteNode(toolbox *Toolbox, store CheckpointStore) (*ToolExecuteNode, error) {
	if toolbox == nil {
		return nil, fmt.Errorf("toolbox is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	return &ToolExecuteNode{toolbox: toolbox, store: store}, nil
}

func (n *ToolExecuteNode) Name() string { return NodeToolExecute }

func (n *ToolExecuteNode) Run(ctx context.Context, nc NodeContext, state *PlanState) (NodeUpdate, error) {
	last, ok := LastAssistantMessage(state.Log)
	if !ok || !last.HasToolCalls() {
		return NodeUpdate{}, NewPlanError(ErrorTypeStructural, "tool execution requested but no tool calls are pending")
	}

	staged, err := n.store.PendingWrites(ctx, nc.ThreadID, nc.ParentCheckpointID)
	if err != nil {
		return NodeUpdate{}, WrapError(ErrorTypePersistence, err)
	}
	replayed := map[string]Message{}
	for _, w := range staged {
		if w.Channel != writeChannelToolResult {
			continue
		}
		var msg Message
		if err := json.Unmarshal(w.Value, &msg); err != nil {
			return NodeUpdate{}, WrapError(ErrorTypePersistence, err)
		}
		replayed[w.TaskID] = msg
	}

	var remaining []ToolCall
	for _, call := range last.ToolCalls {
		if _, done := replayed[call.ID]; !done {
			remaining = append(remaining, call)
		}
	}

	results := n.toolbox.ExecuteBatch(ctx, remaining)
	var writes []*PendingWrite
	for _, result := range results {
		msg := toolResultMessage(result)
		value, err := json.Marshal(msg)
		if err != nil {
			return NodeUpdate{}, fmt.Errorf("failed to marshal tool result: %w", err)
		}
		writes = append(writes, &PendingWrite{
			ThreadID:     nc.ThreadID,
			CheckpointID: nc.ParentCheckpointID,
			TaskID:       result.CallID,
			Channel:      writeChannelToolResult,
			Value:        value,
		})
		replayed[result.CallID] = msg
	}
	if len(writes) > 0 {
		if err := n.store.PutWrites(ctx, writes); err != nil {
			return NodeUpdate{}, WrapError(ErrorTypePersistence, err)
		}
	}

	// Results go into the log in request order regardless of completion
	// order.
	update := NodeUpdate{CurrentStep: StepToolsExecuted}
	for _, call := range last.ToolCalls {
		msg, ok := replayed[call.ID]
		if !ok {
			return NodeUpdate{}, fmt.Errorf("missing result for tool call %s", call.ID)
		}
		update.AppendLog = append(update.AppendLog, msg)
	}
	return update, nil
}

func toolResultMessage(result ToolResult) Message {
	msg := Message{
		Role:       RoleTool,
		ToolCallID: result.CallID,
		ToolKind:   result.Kind,
	}
	if result.Err != nil {
		msg.IsError = true
		msg.Content = result.Err.Error()
		return msg
	}
	msg.Content = string(result.Output)
	return msg
}
