package coastline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ToolKind enumerates the closed set of tools the planner may call. Dispatch
// goes through an explicit lookup table; an unlisted kind is a structural
// error fed back to the planner, never a crash.
type ToolKind string

const (
	ToolFlightSearch ToolKind = "search_flights"
	ToolHotelSearch  ToolKind = "search_hotels"
	ToolAirportCode  ToolKind = "get_airport_code"
	ToolGeocode      ToolKind = "geocode_location"
)

// FlightQuery asks for round-trip or one-way flight offers for one leg.
type FlightQuery struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"`
	ReturnDate    string `json:"return_date,omitempty"`
	Adults        int    `json:"adults"`
}

// FlightOption is one priced flight offer.
type FlightOption struct {
	Airline    string  `json:"airline"`
	TotalPrice float64 `json:"total_price"`
	Currency   string  `json:"currency"`
	Stops      int     `json:"stops"`
}

// FlightResults is the output of a flight search, cheapest first.
type FlightResults struct {
	Flights  []FlightOption `json:"flights"`
	Cheapest *FlightOption  `json:"cheapest_flight,omitempty"`
	Total    int            `json:"total_results"`
}

// HotelQuery asks for hotel offers in one city for a date range.
type HotelQuery struct {
	CityCode string `json:"city_code"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Adults   int    `json:"adults"`
}

// HotelOption is one priced hotel offer.
type HotelOption struct {
	Name          string  `json:"name"`
	PricePerNight float64 `json:"price_per_night"`
	TotalPrice    float64 `json:"total_price"`
	Currency      string  `json:"currency"`
}

// HotelResults is the output of a hotel search, cheapest first.
type HotelResults struct {
	Hotels   []HotelOption `json:"hotels"`
	Cheapest *HotelOption  `json:"cheapest_hotel,omitempty"`
	Total    int           `json:"total_results"`
}

// AirportQuery resolves a city name to its IATA code.
type AirportQuery struct {
	City string `json:"city"`
}

// AirportResult carries the resolved IATA code.
type AirportResult struct {
	City     string `json:"city"`
	IATACode string `json:"iata_code"`
}

// GeocodeQuery resolves a free-form address to coordinates.
type GeocodeQuery struct {
	Address string `json:"address"`
}

// GeocodeResult carries forward-geocoded coordinates. Found is false when the
// address could not be resolved; that is a degraded result, not an error.
type GeocodeResult struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Found bool    `json:"found"`
}

// FlightSearcher finds priced flight offers. Implementations must be safe for
// concurrent use by multiple session threads and hold no per-session state.
type FlightSearcher interface {
	SearchFlights(ctx context.Context, query FlightQuery) (*FlightResults, error)
}

// HotelSearcher finds priced hotel offers.
type HotelSearcher interface {
	SearchHotels(ctx context.Context, query HotelQuery) (*HotelResults, error)
}

// AirportResolver maps city names to IATA codes.
type AirportResolver interface {
	ResolveAirport(ctx context.Context, query AirportQuery) (*AirportResult, error)
}

// Geocoder resolves addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
}

// ToolDefinition describes one tool to the generation service.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolResult is the outcome of executing one requested tool call. Failures
// are carried as results so the planner can see them; they do not abort the
// batch.
type ToolResult struct {
	CallID string
	Kind   ToolKind
	Output json.RawMessage
	Err    error
}

// Toolbox executes tool calls against injected search clients through a fixed
// dispatch table keyed by ToolKind.
type Toolbox struct {
	dispatch map[ToolKind]func(ctx context.Context, input json.RawMessage) (any, error)
}

// NewToolbox wires the search clients into the dispatch table. All clients
// are required.
func NewToolbox(flights FlightSearcher, hotels HotelSearcher, airports AirportResolver, geocoder Geocoder) (*Toolbox, error) {
	if flights == nil || hotels == nil || airports == nil || geocoder == nil {
		return nil, fmt.Errorf("all tool clients are required")
	}
	return &Toolbox{
		dispatch: map[ToolKind]func(ctx context.Context, input json.RawMessage) (any, error){
			ToolFlightSearch: func(ctx context.Context, input json.RawMessage) (any, error) {
				var q FlightQuery
				if err := json.Unmarshal(input, &q); err != nil {
					return nil, fmt.Errorf("invalid flight query: %w", err)
				}
				return flights.SearchFlights(ctx, q)
			},
			ToolHotelSearch: func(ctx context.Context, input json.RawMessage) (any, error) {
				var q HotelQuery
				if err := json.Unmarshal(input, &q); err != nil {
					return nil, fmt.Errorf("invalid hotel query: %w", err)
				}
				return hotels.SearchHotels(ctx, q)
			},
			ToolAirportCode: func(ctx context.Context, input json.RawMessage) (any, error) {
				var q AirportQuery
				if err := json.Unmarshal(input, &q); err != nil {
					return nil, fmt.Errorf("invalid airport query: %w", err)
				}
				return airports.ResolveAirport(ctx, q)
			},
			ToolGeocode: func(ctx context.Context, input json.RawMessage) (any, error) {
				var q GeocodeQuery
				if err := json.Unmarshal(input, &q); err != nil {
					return nil, fmt.Errorf("invalid geocode query: %w", err)
				}
				return geocoder.Geocode(ctx, q.Address)
			},
		},
	}, nil
}

// Execute runs a single tool call.
func (t *Toolbox) Execute(ctx context.Context, call ToolCall) ToolResult {
	result := ToolResult{CallID: call.ID, Kind: call.Kind}
	fn, ok := t.dispatch[call.Kind]
	if !ok {
		result.Err = fmt.Errorf("unknown tool %q", call.Kind)
		return result
	}
	out, err := fn(ctx, call.Input)
	if err != nil {
		result.Err = err
		return result
	}
	data, err := json.Marshal(out)
	if err != nil {
		result.Err = fmt.Errorf("failed to marshal %s result: %w", call.Kind, err)
		return result
	}
	result.Output = data
	return result
}

// ExecuteBatch runs independently requested tool calls concurrently and
// returns their results in request order. It is a barrier: every call
// finishes (or fails) before the batch returns, so the planner always sees
// the complete set of results appended together.
func (t *Toolbox) ExecuteBatch(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = t.Execute(gctx, call)
			return nil
		})
	}
	// Worker funcs never return errors; failures live in the results.
	_ = g.Wait()
	return results
}

// ToolDefinitions describes the closed tool set for the generation request.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        string(ToolFlightSearch),
			Description: "Search for flights between two cities and return priced offers sorted cheapest first.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"origin": {"type": "string", "description": "IATA code of the departure city"},
					"destination": {"type": "string", "description": "IATA code of the arrival city"},
					"departure_date": {"type": "string", "description": "YYYY-MM-DD"},
					"return_date": {"type": "string", "description": "YYYY-MM-DD, omit for one-way"},
					"adults": {"type": "integer", "minimum": 1, "maximum": 9}
				},
				"required": ["origin", "destination", "departure_date", "adults"]
			}`),
		},
		{
			Name:        string(ToolHotelSearch),
			Description: "Search for hotels in a city for a date range and return priced offers sorted cheapest first.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city_code": {"type": "string", "description": "IATA city code"},
					"check_in": {"type": "string", "description": "YYYY-MM-DD"},
					"check_out": {"type": "string", "description": "YYYY-MM-DD"},
					"adults": {"type": "integer", "minimum": 1, "maximum": 9}
				},
				"required": ["city_code", "check_in", "check_out", "adults"]
			}`),
		},
		{
			Name:        string(ToolAirportCode),
			Description: "Resolve a city name to its IATA airport/city code.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city": {"type": "string", "description": "City name, e.g. 'Paris'"}
				},
				"required": ["city"]
			}`),
		},
		{
			Name:        string(ToolGeocode),
			Description: "Resolve a street address or place name to latitude/longitude coordinates.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"address": {"type": "string", "description": "Free-form address or place name"}
				},
				"required": ["address"]
			}`),
		},
	}
}
