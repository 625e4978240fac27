package coastline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCityOrder(t *testing.T) {
	it := &Itinerary{Days: []ItineraryDay{
		{DayNumber: 1, City: "Paris"},
		{DayNumber: 2, City: "Paris"},
		{DayNumber: 3, City: "Rome"},
		{DayNumber: 4},
		{DayNumber: 5, City: "Paris"},
	}}
	require.Equal(t, []string{"Paris", "Rome"}, it.CityOrder())
}

func TestDaysPerCity(t *testing.T) {
	it := &Itinerary{Days: []ItineraryDay{
		{DayNumber: 1, City: "Paris"},
		{DayNumber: 2, City: "Paris"},
		{DayNumber: 3, City: "Rome"},
		{DayNumber: 4},
	}}
	require.Equal(t, map[string]int{"Paris": 2, "Rome": 1}, it.DaysPerCity())
}

func TestWithinBudget(t *testing.T) {
	breakdown := &CostBreakdown{FlightsTotal: 700, HotelsTotal: 600, ActivitiesTotal: 100}

	require.Equal(t, map[string]bool{"flights": true, "hotels": true, "activities": true},
		breakdown.WithinBudget(nil))

	flags := breakdown.WithinBudget(&CostBreakdown{FlightsTotal: 500, HotelsTotal: 600})
	require.False(t, flags["flights"])
	require.True(t, flags["hotels"])
	require.True(t, flags["activities"])
}

func TestLastAssistantMessage(t *testing.T) {
	log := []Message{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: "plan"},
		{Role: RoleAssistant, Content: "first"},
		{Role: RoleTool, ToolCallID: "call-1"},
		{Role: RoleAssistant, Content: "second"},
		{Role: RoleUser, Content: "revise"},
	}
	msg, ok := LastAssistantMessage(log)
	require.True(t, ok)
	require.Equal(t, "second", msg.Content)

	_, ok = LastAssistantMessage([]Message{{Role: RoleUser, Content: "hi"}})
	require.False(t, ok)

	_, ok = LastAssistantMessage(nil)
	require.False(t, ok)
}
