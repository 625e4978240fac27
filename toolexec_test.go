package coastline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func toolCallState(calls ...ToolCall) *PlanState {
	state := NewPlanState(testPreferences())
	state.Log = []Message{
		{Role: RoleUser, Content: "plan it"},
		{Role: RoleAssistant, ToolCalls: calls},
	}
	state.CurrentStep = StepPlanned
	return state
}

func TestToolExecuteReplaysStagedResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	// The flight client is broken, but call-1's result was staged before
	// the crash, so only call-2 executes on resume.
	flights := &stubFlights{err: errors.New("upstream down")}
	toolbox, err := NewToolbox(flights, &stubHotels{}, &stubAirports{}, &stubGeocoder{})
	require.NoError(t, err)
	node, err := NewToolExecuteNode(toolbox, store)
	require.NoError(t, err)

	staged, err := json.Marshal(Message{
		Role:       RoleTool,
		ToolCallID: "call-1",
		ToolKind:   ToolFlightSearch,
		Content:    `{"total":1,"flights":[{"airline":"STAGED"}]}`,
	})
	require.NoError(t, err)
	require.NoError(t, store.PutWrites(ctx, []*PendingWrite{{
		ThreadID:     "thread-1",
		CheckpointID: CheckpointSeq(1),
		TaskID:       "call-1",
		Channel:      writeChannelToolResult,
		Value:        staged,
	}}))

	state := toolCallState(
		ToolCall{ID: "call-1", Kind: ToolFlightSearch, Input: json.RawMessage(`{"origin":"JFK","destination":"CDG","departure_date":"2026-09-10","adults":2}`)},
		ToolCall{ID: "call-2", Kind: ToolAirportCode, Input: json.RawMessage(`{"city":"Rome"}`)},
	)
	update, err := node.Run(ctx, NodeContext{
		ThreadID:           "thread-1",
		ParentCheckpointID: CheckpointSeq(1),
		Step:               2,
	}, state)
	require.NoError(t, err)
	require.Len(t, update.AppendLog, 2)

	// call-1 came from the staged write, not the broken client.
	require.Equal(t, "call-1", update.AppendLog[0].ToolCallID)
	require.False(t, update.AppendLog[0].IsError)
	require.Contains(t, update.AppendLog[0].Content, "STAGED")

	require.Equal(t, "call-2", update.AppendLog[1].ToolCallID)
	require.False(t, update.AppendLog[1].IsError)
}

func TestToolExecuteStagesEveryResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()
	node, err := NewToolExecuteNode(newTestToolbox(t), store)
	require.NoError(t, err)

	state := toolCallState(
		ToolCall{ID: "call-1", Kind: ToolHotelSearch, Input: json.RawMessage(`{"city_code":"PAR","check_in":"2026-09-10","check_out":"2026-09-13","adults":2}`)},
		ToolCall{ID: "call-2", Kind: ToolGeocode, Input: json.RawMessage(`{"address":"Rue de Rivoli, Paris"}`)},
	)
	update, err := node.Run(ctx, NodeContext{
		ThreadID:           "thread-1",
		ParentCheckpointID: CheckpointSeq(3),
		Step:               4,
	}, state)
	require.NoError(t, err)
	require.Equal(t, StepToolsExecuted, update.CurrentStep)

	writes, err := store.PendingWrites(ctx, "thread-1", CheckpointSeq(3))
	require.NoError(t, err)
	require.Len(t, writes, 2)
	for _, w := range writes {
		require.Equal(t, writeChannelToolResult, w.Channel)
	}
}

func TestToolExecuteFailedCallBecomesErrorMessage(t *testing.T) {
	store := NewMemoryCheckpointStore()
	flights := &stubFlights{err: errors.New("upstream down")}
	toolbox, err := NewToolbox(flights, &stubHotels{}, &stubAirports{}, &stubGeocoder{})
	require.NoError(t, err)
	node, err := NewToolExecuteNode(toolbox, store)
	require.NoError(t, err)

	state := toolCallState(
		ToolCall{ID: "call-1", Kind: ToolFlightSearch, Input: json.RawMessage(`{"origin":"JFK","destination":"CDG","departure_date":"2026-09-10","adults":2}`)},
	)
	update, err := node.Run(context.Background(), NodeContext{
		ThreadID:           "thread-1",
		ParentCheckpointID: CheckpointSeq(1),
		Step:               2,
	}, state)
	require.NoError(t, err)
	require.Len(t, update.AppendLog, 1)
	require.True(t, update.AppendLog[0].IsError)
	require.Contains(t, update.AppendLog[0].Content, "upstream down")
}

func TestToolExecuteWithoutPendingCalls(t *testing.T) {
	store := NewMemoryCheckpointStore()
	node, err := NewToolExecuteNode(newTestToolbox(t), store)
	require.NoError(t, err)

	state := NewPlanState(testPreferences())
	state.Log = []Message{{Role: RoleAssistant, Content: "no tools here"}}
	_, err = node.Run(context.Background(), NodeContext{ThreadID: "thread-1"}, state)
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeStructural))
}
