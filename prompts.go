package coastline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const plannerSystemPrompt = `You are a budget-conscious travel planner. Today's date is %s.

You plan multi-city trips. Use the available tools to look up real flight and
hotel prices before committing to numbers; never invent prices.

When you have gathered enough information, respond with ONLY a JSON document
(no prose, no markdown fences) matching this shape:

{
  "trip_title": "string",
  "days": [
    {
      "day_number": 1,
      "theme": "string",
      "city": "string",
      "activities": [
        {
          "type": "flight|hotel|food|activity",
          "time_slot": "09:00 AM",
          "title": "string",
          "description": "string",
          "location": {"name": "string", "address": "string"},
          "estimated_cost": 0.0,
          "currency": "USD"
        }
      ]
    }
  ]
}

Every flight and hotel cost must come from a tool result. The sum of all
estimated_cost values must stay within the user's budget.`

// PlannerSystemPrompt returns the system message content for the proposal
// step.
func PlannerSystemPrompt(now time.Time) string {
	return fmt.Sprintf(plannerSystemPrompt, now.Format("2006-01-02"))
}

// PreferencesPrompt renders the trip preferences as the opening user message.
func PreferencesPrompt(prefs Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a trip with these preferences:\n")
	fmt.Fprintf(&b, "- Origin: %s\n", prefs.Origin)
	fmt.Fprintf(&b, "- Destinations: %s\n", strings.Join(prefs.Destinations, ", "))
	fmt.Fprintf(&b, "- Dates: %s to %s\n", prefs.StartDate, prefs.EndDate)
	fmt.Fprintf(&b, "- Travelers: %d\n", prefs.Travelers)
	fmt.Fprintf(&b, "- Budget limit: $%.2f (total, all categories)\n", prefs.BudgetLimit)
	return b.String()
}

// BudgetAlertPrompt is appended to the preferences message when the previous
// candidate came in over budget.
func BudgetAlertPrompt(totalCost, budget float64) string {
	return fmt.Sprintf(
		"\nIMPORTANT: your previous plan cost $%.2f, which exceeds the $%.2f budget by $%.2f. Reduce costs: cheaper flights, fewer hotel nights, or lower-cost activities.",
		totalCost, budget, totalCost-budget)
}

// ValidationFeedbackPrompt turns field-level validation errors into a
// corrective message for the proposal step.
func ValidationFeedbackPrompt(errs []FieldError) string {
	var b strings.Builder
	b.WriteString("Your last response did not match the required itinerary format. Fix these problems and respond again with ONLY the corrected JSON document:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s: %s\n", e.Field, e.Message)
	}
	return b.String()
}

// ParseFeedbackPrompt asks for a clean JSON document after a parse failure.
func ParseFeedbackPrompt(cause string) string {
	return fmt.Sprintf(
		"Your last response was not parseable as JSON (%s). Respond again with ONLY the itinerary JSON document, no surrounding text.", cause)
}

// RevisionPrompt wraps human feedback into a revision request.
func RevisionPrompt(feedback string) string {
	if feedback == "" {
		feedback = "Please revise the itinerary."
	}
	return feedback
}

// ReplanHintPrompt summarizes a failed budget attempt so the next attempt can
// try a different shape: reorder cities, shift day allocations, trim the
// categories that blew their budgets.
func ReplanHintPrompt(attempt int, breakdown *CostBreakdown, it *Itinerary, shortfalls map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REPLANNING ATTEMPT %d. The previous attempt was over budget.\n", attempt)
	if breakdown != nil {
		fmt.Fprintf(&b, "Previous costs: flights $%.2f, hotels $%.2f, activities $%.2f (total $%.2f).\n",
			breakdown.FlightsTotal, breakdown.HotelsTotal, breakdown.ActivitiesTotal, breakdown.GrandTotal)
	}
	if it != nil {
		if order := it.CityOrder(); len(order) > 0 {
			fmt.Fprintf(&b, "Previous city order: %s.\n", strings.Join(order, " -> "))
		}
		if days := it.DaysPerCity(); len(days) > 0 {
			cities := make([]string, 0, len(days))
			for city := range days {
				cities = append(cities, city)
			}
			sort.Strings(cities)
			parts := make([]string, 0, len(cities))
			for _, city := range cities {
				parts = append(parts, fmt.Sprintf("%s: %d", city, days[city]))
			}
			fmt.Fprintf(&b, "Previous day allocation: %s.\n", strings.Join(parts, ", "))
		}
	}
	if len(shortfalls) > 0 {
		cats := make([]string, 0, len(shortfalls))
		for cat := range shortfalls {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			fmt.Fprintf(&b, "Over budget on %s by $%.2f.\n", cat, shortfalls[cat])
		}
	}
	b.WriteString("Try a different approach: reorder cities for cheaper flight legs, allocate fewer nights in expensive cities, or swap costly activities for free ones.")
	return b.String()
}
