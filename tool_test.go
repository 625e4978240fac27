package coastline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubFlights struct {
	err error
}

func (s *stubFlights) SearchFlights(ctx context.Context, query FlightQuery) (*FlightResults, error) {
	if s.err != nil {
		return nil, s.err
	}
	option := FlightOption{Airline: "AF", TotalPrice: 450, Currency: "USD"}
	return &FlightResults{Flights: []FlightOption{option}, Cheapest: &option, Total: 1}, nil
}

type stubHotels struct{}

func (s *stubHotels) SearchHotels(ctx context.Context, query HotelQuery) (*HotelResults, error) {
	option := HotelOption{Name: "Hotel Test", PricePerNight: 120, TotalPrice: 360, Currency: "USD"}
	return &HotelResults{Hotels: []HotelOption{option}, Cheapest: &option, Total: 1}, nil
}

type stubAirports struct{}

func (s *stubAirports) ResolveAirport(ctx context.Context, query AirportQuery) (*AirportResult, error) {
	return &AirportResult{City: query.City, IATACode: "PAR"}, nil
}

type stubGeocoder struct {
	calls int
}

func (s *stubGeocoder) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	s.calls++
	if address == "nowhere" {
		return &GeocodeResult{}, nil
	}
	return &GeocodeResult{Lat: 48.85, Lng: 2.35, Found: true}, nil
}

func newTestToolbox(t *testing.T) *Toolbox {
	t.Helper()
	toolbox, err := NewToolbox(&stubFlights{}, &stubHotels{}, &stubAirports{}, &stubGeocoder{})
	require.NoError(t, err)
	return toolbox
}

func TestNewToolboxRequiresAllClients(t *testing.T) {
	_, err := NewToolbox(nil, &stubHotels{}, &stubAirports{}, &stubGeocoder{})
	require.Error(t, err)
}

func TestToolboxExecuteDispatch(t *testing.T) {
	toolbox := newTestToolbox(t)
	ctx := context.Background()

	t.Run("flight search", func(t *testing.T) {
		result := toolbox.Execute(ctx, ToolCall{
			ID:    "call-1",
			Kind:  ToolFlightSearch,
			Input: json.RawMessage(`{"origin":"JFK","destination":"CDG","departure_date":"2026-09-10","adults":2}`),
		})
		require.NoError(t, result.Err)
		var results FlightResults
		require.NoError(t, json.Unmarshal(result.Output, &results))
		require.Equal(t, 1, results.Total)
		require.Equal(t, 450.0, results.Cheapest.TotalPrice)
	})

	t.Run("airport code", func(t *testing.T) {
		result := toolbox.Execute(ctx, ToolCall{
			ID:    "call-2",
			Kind:  ToolAirportCode,
			Input: json.RawMessage(`{"city":"Paris"}`),
		})
		require.NoError(t, result.Err)
		var out AirportResult
		require.NoError(t, json.Unmarshal(result.Output, &out))
		require.Equal(t, "PAR", out.IATACode)
	})

	t.Run("invalid input", func(t *testing.T) {
		result := toolbox.Execute(ctx, ToolCall{
			ID:    "call-3",
			Kind:  ToolFlightSearch,
			Input: json.RawMessage(`not json`),
		})
		require.Error(t, result.Err)
	})
}

func TestToolboxUnknownKind(t *testing.T) {
	toolbox := newTestToolbox(t)
	result := toolbox.Execute(context.Background(), ToolCall{
		ID:    "call-1",
		Kind:  ToolKind("summon_dragon"),
		Input: json.RawMessage(`{}`),
	})
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "unknown tool")
}

func TestToolboxExecuteBatchOrderAndBarrier(t *testing.T) {
	flights := &stubFlights{err: errors.New("upstream down")}
	toolbox, err := NewToolbox(flights, &stubHotels{}, &stubAirports{}, &stubGeocoder{})
	require.NoError(t, err)

	calls := []ToolCall{
		{ID: "a", Kind: ToolHotelSearch, Input: json.RawMessage(`{"city_code":"PAR","check_in":"2026-09-10","check_out":"2026-09-13","adults":2}`)},
		{ID: "b", Kind: ToolFlightSearch, Input: json.RawMessage(`{"origin":"JFK","destination":"CDG","departure_date":"2026-09-10","adults":2}`)},
		{ID: "c", Kind: ToolAirportCode, Input: json.RawMessage(`{"city":"Rome"}`)},
	}
	results := toolbox.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 3)

	// Results come back in request order; the failed call is a result, not
	// an abort.
	require.Equal(t, "a", results[0].CallID)
	require.NoError(t, results[0].Err)
	require.Equal(t, "b", results[1].CallID)
	require.Error(t, results[1].Err)
	require.Equal(t, "c", results[2].CallID)
	require.NoError(t, results[2].Err)
}

func TestToolDefinitionsCoverClosedSet(t *testing.T) {
	defs := ToolDefinitions()
	require.Len(t, defs, 4)
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
		require.NotEmpty(t, def.Description)
		var schema map[string]any
		require.NoError(t, json.Unmarshal(def.InputSchema, &schema))
		require.Equal(t, "object", schema["type"])
	}
	require.True(t, names[string(ToolFlightSearch)])
	require.True(t, names[string(ToolHotelSearch)])
	require.True(t, names[string(ToolAirportCode)])
	require.True(t, names[string(ToolGeocode)])
}
