package coastline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func validItineraryJSON(flightCost, hotelCost, activityCost float64) string {
	return fmt.Sprintf(`{
		"trip_title": "Paris Getaway",
		"days": [
			{
				"day_number": 1,
				"theme": "Arrival",
				"city": "Paris",
				"activities": [
					{"type": "flight", "time_slot": "09:00 AM", "title": "JFK to CDG", "estimated_cost": %.2f, "currency": "USD"},
					{"type": "hotel", "time_slot": "03:00 PM", "title": "Hotel Lutetia", "estimated_cost": %.2f, "currency": "USD"},
					{"type": "activity", "time_slot": "07:00 PM", "title": "Seine cruise", "estimated_cost": %.2f, "currency": "USD"}
				]
			}
		]
	}`, flightCost, hotelCost, activityCost)
}

func TestAuditValidUnderBudget(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	result, fieldErrs := auditor.Audit(validItineraryJSON(500, 300, 100), 1000)
	require.Empty(t, fieldErrs)
	require.Equal(t, VerdictUnder, result.Verdict)
	require.Equal(t, 500.0, result.Breakdown.FlightsTotal)
	require.Equal(t, 300.0, result.Breakdown.HotelsTotal)
	require.Equal(t, 100.0, result.Breakdown.ActivitiesTotal)
	require.Equal(t, 900.0, result.Breakdown.GrandTotal)
	require.Equal(t, "Paris Getaway", result.Itinerary.TripTitle)
}

func TestAuditExactBudgetIsUnder(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	result, fieldErrs := auditor.Audit(validItineraryJSON(500, 300, 200), 1000)
	require.Empty(t, fieldErrs)
	require.Equal(t, VerdictUnder, result.Verdict)
}

func TestAuditOverBudget(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	// $1300 against a $1200 ceiling leaves a $100 shortfall.
	result, fieldErrs := auditor.Audit(validItineraryJSON(700, 400, 200), 1200)
	require.Empty(t, fieldErrs)
	require.Equal(t, VerdictOver, result.Verdict)
	require.Equal(t, 1300.0, result.Breakdown.GrandTotal)
	require.Equal(t, 100.0, round2(result.Breakdown.GrandTotal-1200))
}

func TestAuditFoodCountsAsActivities(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	doc := `{
		"trip_title": "Food Tour",
		"days": [{
			"day_number": 1,
			"activities": [
				{"type": "food", "title": "Dinner", "estimated_cost": 80},
				{"type": "activity", "title": "Museum", "estimated_cost": 20}
			]
		}]
	}`
	result, fieldErrs := auditor.Audit(doc, 500)
	require.Empty(t, fieldErrs)
	require.Equal(t, 100.0, result.Breakdown.ActivitiesTotal)
	require.Equal(t, 0.0, result.Breakdown.FlightsTotal)
}

func TestAuditMalformedDocument(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	t.Run("no JSON at all", func(t *testing.T) {
		result, fieldErrs := auditor.Audit("I could not produce a plan.", 1000)
		require.Nil(t, result)
		require.NotEmpty(t, fieldErrs)
	})

	t.Run("missing required fields", func(t *testing.T) {
		result, fieldErrs := auditor.Audit(`{"days": []}`, 1000)
		require.Nil(t, result)
		require.NotEmpty(t, fieldErrs)
	})

	t.Run("bad item type", func(t *testing.T) {
		doc := `{
			"trip_title": "Bad",
			"days": [{"day_number": 1, "activities": [{"type": "teleport", "title": "X", "estimated_cost": 5}]}]
		}`
		result, fieldErrs := auditor.Audit(doc, 1000)
		require.Nil(t, result)
		require.NotEmpty(t, fieldErrs)
	})

	t.Run("negative cost", func(t *testing.T) {
		doc := `{
			"trip_title": "Bad",
			"days": [{"day_number": 1, "activities": [{"type": "food", "title": "X", "estimated_cost": -5}]}]
		}`
		result, fieldErrs := auditor.Audit(doc, 1000)
		require.Nil(t, result)
		require.NotEmpty(t, fieldErrs)
	})
}

func TestAuditToleratesSurroundingProse(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	raw := "Here is your plan:\n" + validItineraryJSON(100, 100, 100) + "\nEnjoy!"
	result, fieldErrs := auditor.Audit(raw, 1000)
	require.Empty(t, fieldErrs)
	require.Equal(t, 300.0, result.Breakdown.GrandTotal)
}

func TestAuditToleratesMarkdownFences(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	raw := "```json\n" + validItineraryJSON(100, 100, 100) + "\n```"
	result, fieldErrs := auditor.Audit(raw, 1000)
	require.Empty(t, fieldErrs)
	require.Equal(t, 300.0, result.Breakdown.GrandTotal)
}

func TestExtractJSONNestedBraces(t *testing.T) {
	doc, ok := extractJSON(`prefix {"a": {"b": "}"}, "c": 1} suffix`)
	require.True(t, ok)
	require.Equal(t, `{"a": {"b": "}"}, "c": 1}`, doc)
}

func TestAuditIsDeterministic(t *testing.T) {
	auditor, err := NewAuditor()
	require.NoError(t, err)

	raw := validItineraryJSON(123.45, 67.89, 10.11)
	first, errs1 := auditor.Audit(raw, 500)
	second, errs2 := auditor.Audit(raw, 500)
	require.Empty(t, errs1)
	require.Empty(t, errs2)
	require.Equal(t, first.Breakdown, second.Breakdown)
	require.Equal(t, first.Verdict, second.Verdict)
}
