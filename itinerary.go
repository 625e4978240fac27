package coastline

// ItemType categorizes a line item for cost accounting. The auditor groups
// declared costs by this field; anything that is not a flight or hotel counts
// toward the activities bucket.
type ItemType string

const (
	ItemTypeFlight   ItemType = "flight"
	ItemTypeHotel    ItemType = "hotel"
	ItemTypeFood     ItemType = "food"
	ItemTypeActivity ItemType = "activity"
)

// ItineraryLocation is the place an itinerary item happens. Coordinates are
// filled in by the geocoding enrichment pass after approval; the generation
// service never supplies them.
type ItineraryLocation struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// ItineraryItem is a single priced line item in a day's plan.
type ItineraryItem struct {
	Type          ItemType          `json:"type"`
	TimeSlot      string            `json:"time_slot"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Location      ItineraryLocation `json:"location"`
	EstimatedCost float64           `json:"estimated_cost"`
	Currency      string            `json:"currency"`
}

// ItineraryDay groups the items planned for one day in one city.
type ItineraryDay struct {
	DayNumber int             `json:"day_number"`
	Theme     string          `json:"theme"`
	City      string          `json:"city"`
	Items     []ItineraryItem `json:"activities"`
}

// Itinerary is a validated candidate trip plan as produced by the auditor.
type Itinerary struct {
	TripTitle string         `json:"trip_title"`
	Days      []ItineraryDay `json:"days"`
}

// CostBreakdown is the auditor's per-category cost accounting for one
// candidate itinerary. GrandTotal is always the sum of the three categories.
type CostBreakdown struct {
	FlightsTotal    float64 `json:"flights_total"`
	HotelsTotal     float64 `json:"hotels_total"`
	ActivitiesTotal float64 `json:"activities_total"`
	GrandTotal      float64 `json:"grand_total"`
}

// WithinBudget reports, per category, whether this breakdown fits the given
// ceilings. A zero ceiling leaves that category unconstrained.
func (b *CostBreakdown) WithinBudget(ceilings *CostBreakdown) map[string]bool {
	out := map[string]bool{"flights": true, "hotels": true, "activities": true}
	if ceilings == nil {
		return out
	}
	if ceilings.FlightsTotal > 0 && b.FlightsTotal > ceilings.FlightsTotal {
		out["flights"] = false
	}
	if ceilings.HotelsTotal > 0 && b.HotelsTotal > ceilings.HotelsTotal {
		out["hotels"] = false
	}
	if ceilings.ActivitiesTotal > 0 && b.ActivitiesTotal > ceilings.ActivitiesTotal {
		out["activities"] = false
	}
	return out
}

// CityOrder returns the distinct cities in visit order.
func (it *Itinerary) CityOrder() []string {
	var order []string
	seen := map[string]bool{}
	for _, day := range it.Days {
		if day.City == "" || seen[day.City] {
			continue
		}
		seen[day.City] = true
		order = append(order, day.City)
	}
	return order
}

// DaysPerCity returns how many itinerary days are allocated to each city.
func (it *Itinerary) DaysPerCity() map[string]int {
	days := map[string]int{}
	for _, day := range it.Days {
		if day.City != "" {
			days[day.City]++
		}
	}
	return days
}
