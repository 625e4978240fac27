package coastline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingClient captures the requests passed to a scripted client so tests
// can inspect the prompts each attempt was given.
type recordingClient struct {
	mutex    sync.Mutex
	inner    *scriptedClient
	requests []GenerationRequest
}

func (c *recordingClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	c.mutex.Lock()
	c.requests = append(c.requests, req)
	c.mutex.Unlock()
	return c.inner.Generate(ctx, req)
}

func sequentialThreadIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("attempt-%d", n)
	}
}

func newTestReplanner(t *testing.T, client GenerationClient, opts ReplannerOptions) *Replanner {
	t.Helper()
	engine := newTestEngine(t, NewMemoryCheckpointStore(), client)
	opts.Engine = engine
	opts.Logger = NewJSONLogger()
	if opts.NewThreadID == nil {
		opts.NewThreadID = sequentialThreadIDs()
	}
	replanner, err := NewReplanner(opts)
	require.NoError(t, err)
	return replanner
}

func TestReplannerKeepsBestShortfall(t *testing.T) {
	prefs := testPreferences()
	prefs.BudgetLimit = 1000

	// Five attempts, all over budget. Shortfalls run 300, 250, 400, 180,
	// 500, so the fourth attempt is the keeper.
	client := &scriptedClient{steps: []scriptStep{
		{content: validItineraryJSON(700, 400, 200)},
		{content: validItineraryJSON(700, 400, 150)},
		{content: validItineraryJSON(800, 400, 200)},
		{content: validItineraryJSON(600, 400, 180)},
		{content: validItineraryJSON(900, 400, 200)},
	}}
	replanner := newTestReplanner(t, client, ReplannerOptions{MaxAttempts: 5})

	outcome, err := replanner.Plan(context.Background(), prefs)
	require.NoError(t, err)
	require.Equal(t, VerdictOver, outcome.Verdict)
	require.Equal(t, 4, outcome.Attempts)
	require.Equal(t, 180.0, outcome.Shortfall)
	require.Equal(t, "attempt-4", outcome.ThreadID)
	require.Equal(t, 1180.0, *outcome.State.TotalCost)
	require.Equal(t, 5, client.callCount())
}

func TestReplannerStopsOnUnderBudget(t *testing.T) {
	prefs := testPreferences()
	prefs.BudgetLimit = 1000

	client := &scriptedClient{steps: []scriptStep{
		{content: validItineraryJSON(700, 400, 200)}, // $1300, over
		{content: validItineraryJSON(500, 300, 100)}, // $900, under
		{content: validItineraryJSON(900, 400, 200)}, // never reached
	}}
	replanner := newTestReplanner(t, client, ReplannerOptions{MaxAttempts: 5})

	outcome, err := replanner.Plan(context.Background(), prefs)
	require.NoError(t, err)
	require.Equal(t, VerdictUnder, outcome.Verdict)
	require.Equal(t, 2, outcome.Attempts)
	require.Equal(t, 0.0, outcome.Shortfall)
	require.Equal(t, 900.0, *outcome.State.TotalCost)
	require.Equal(t, 2, client.callCount())
}

func TestReplannerStopsWhenCloseEnough(t *testing.T) {
	prefs := testPreferences()
	prefs.BudgetLimit = 1000

	client := &scriptedClient{steps: []scriptStep{
		{content: validItineraryJSON(700, 400, 200)}, // $300 over
		{content: validItineraryJSON(600, 400, 180)}, // $180 over, close enough
		{content: validItineraryJSON(500, 300, 100)}, // never reached
	}}
	replanner := newTestReplanner(t, client, ReplannerOptions{
		MaxAttempts: 5,
		CloseEnough: 200,
	})

	outcome, err := replanner.Plan(context.Background(), prefs)
	require.NoError(t, err)
	require.Equal(t, VerdictOver, outcome.Verdict)
	require.Equal(t, 2, outcome.Attempts)
	require.Equal(t, 180.0, outcome.Shortfall)
	require.Equal(t, 2, client.callCount())
}

func TestReplannerHintCarriesPreviousAttempt(t *testing.T) {
	prefs := testPreferences()
	prefs.BudgetLimit = 1000

	inner := &scriptedClient{steps: []scriptStep{
		{content: validItineraryJSON(700, 400, 200)},
		{content: validItineraryJSON(500, 300, 100)},
	}}
	client := &recordingClient{inner: inner}
	replanner := newTestReplanner(t, client, ReplannerOptions{MaxAttempts: 3})

	_, err := replanner.Plan(context.Background(), prefs)
	require.NoError(t, err)
	require.Len(t, client.requests, 2)

	// The first attempt opens with bare preferences; the second carries the
	// replan hint with the previous attempt's costs.
	first := client.requests[0].Messages
	require.NotContains(t, first[len(first)-1].Content, "REPLANNING ATTEMPT")

	second := client.requests[1].Messages
	opening := second[len(second)-1].Content
	require.Contains(t, opening, "REPLANNING ATTEMPT 2")
	require.Contains(t, opening, "total $1300.00")
	require.Contains(t, opening, "Over budget on total by $300.00")
}

func TestReplannerCategoryShortfalls(t *testing.T) {
	replanner := newTestReplanner(t, &scriptedClient{}, ReplannerOptions{
		CategoryBudgets: &CostBreakdown{FlightsTotal: 500, HotelsTotal: 400, ActivitiesTotal: 100},
	})

	total := 1300.0
	state := NewPlanState(testPreferences())
	state.TotalCost = &total
	state.CostBreakdown = &CostBreakdown{FlightsTotal: 700, HotelsTotal: 400, ActivitiesTotal: 200, GrandTotal: 1300}

	out := replanner.shortfalls(state, state.Preferences)
	require.Equal(t, map[string]float64{"flights": 200, "activities": 100}, out)
}

func TestReplannerSurfacesLastError(t *testing.T) {
	// Every attempt fails before auditing a plan.
	client := &scriptedClient{steps: []scriptStep{
		{err: errors.New("scripted outage timeout")},
	}}
	replanner := newTestReplanner(t, client, ReplannerOptions{MaxAttempts: 2})

	_, err := replanner.Plan(context.Background(), testPreferences())
	require.Error(t, err)
	require.Contains(t, err.Error(), "attempts failed")
}

func TestNewReplannerRejectsBadOptions(t *testing.T) {
	engine := newTestEngine(t, NewMemoryCheckpointStore(), &scriptedClient{})

	_, err := NewReplanner(ReplannerOptions{Engine: engine, MaxAttempts: 11})
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeClientProtocol))

	_, err = NewReplanner(ReplannerOptions{Engine: engine, MaxAttempts: -1})
	require.Error(t, err)

	_, err = NewReplanner(ReplannerOptions{Engine: engine, CloseEnough: -5})
	require.Error(t, err)

	_, err = NewReplanner(ReplannerOptions{})
	require.Error(t, err)
}

func TestReplannerRejectsInvalidPreferences(t *testing.T) {
	replanner := newTestReplanner(t, &scriptedClient{}, ReplannerOptions{})

	prefs := testPreferences()
	prefs.BudgetLimit = 0
	_, err := replanner.Plan(context.Background(), prefs)
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeClientProtocol))
}
