package amadeus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/coastline"
)

const tokenJSON = `{"access_token":"tok-1","expires_in":1799}`

// fakeAmadeus serves the token endpoint plus whatever API handlers a test
// registers.
func fakeAmadeus(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenRequests int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenRequests, 1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		fmt.Fprint(w, tokenJSON)
	})
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &tokenRequests
}

func newFakeClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Options{
		BaseURL:      server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		MaxResults:   3,
	})
	require.NoError(t, err)
	return client
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{ClientID: "id"})
	require.Error(t, err)
	_, err = New(Options{ClientSecret: "secret"})
	require.Error(t, err)
}

func TestSearchFlightsSortsCheapestFirst(t *testing.T) {
	server, tokenRequests := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v2/shopping/flight-offers": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			require.Equal(t, "JFK", r.URL.Query().Get("originLocationCode"))
			require.Equal(t, "CDG", r.URL.Query().Get("destinationLocationCode"))
			require.Equal(t, "2", r.URL.Query().Get("adults"))
			fmt.Fprint(w, `{"data":[
				{"price":{"grandTotal":"612.40","currency":"USD"},
					"itineraries":[{"segments":[{"carrierCode":"BA"},{"carrierCode":"BA"}]}]},
				{"price":{"grandTotal":"489.90","currency":"USD"},
					"itineraries":[{"segments":[{"carrierCode":"AF"}]}]}
			]}`)
		},
	})
	client := newFakeClient(t, server)

	results, err := client.SearchFlights(context.Background(), coastline.FlightQuery{
		Origin:        "JFK",
		Destination:   "CDG",
		DepartureDate: "2026-09-10",
		Adults:        2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, results.Total)
	require.Equal(t, 489.90, results.Cheapest.TotalPrice)
	require.Equal(t, "AF", results.Cheapest.Airline)
	require.Equal(t, 0, results.Cheapest.Stops)
	require.Equal(t, 1, results.Flights[1].Stops)
	require.Equal(t, int32(1), atomic.LoadInt32(tokenRequests))
}

func TestSearchFlightsValidatesQuery(t *testing.T) {
	server, _ := fakeAmadeus(t, nil)
	client := newFakeClient(t, server)

	_, err := client.SearchFlights(context.Background(), coastline.FlightQuery{Origin: "JFK"})
	require.Error(t, err)
}

func TestSearchHotelsTwoStepLookup(t *testing.T) {
	server, _ := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v1/reference-data/locations/hotels/by-city": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "PAR", r.URL.Query().Get("cityCode"))
			fmt.Fprint(w, `{"data":[{"hotelId":"H1","name":"One"},{"hotelId":"H2","name":"Two"}]}`)
		},
		"/v3/shopping/hotel-offers": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "H1,H2", r.URL.Query().Get("hotelIds"))
			require.Equal(t, "2026-09-10", r.URL.Query().Get("checkInDate"))
			fmt.Fprint(w, `{"data":[
				{"hotel":{"name":"Two"},"offers":[{"price":{"total":"720.00","currency":"USD"}}]},
				{"hotel":{"name":"One"},"offers":[{"price":{"total":"450.00","currency":"USD"}}]}
			]}`)
		},
	})
	client := newFakeClient(t, server)

	results, err := client.SearchHotels(context.Background(), coastline.HotelQuery{
		CityCode: "PAR",
		CheckIn:  "2026-09-10",
		CheckOut: "2026-09-13",
		Adults:   2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, results.Total)
	require.Equal(t, "One", results.Cheapest.Name)
	require.Equal(t, 450.0, results.Cheapest.TotalPrice)
	// Three nights.
	require.Equal(t, 150.0, results.Cheapest.PricePerNight)
}

func TestSearchHotelsNoHotelsInCity(t *testing.T) {
	server, _ := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v1/reference-data/locations/hotels/by-city": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":[]}`)
		},
	})
	client := newFakeClient(t, server)

	results, err := client.SearchHotels(context.Background(), coastline.HotelQuery{
		CityCode: "XXX",
		CheckIn:  "2026-09-10",
		CheckOut: "2026-09-13",
	})
	require.NoError(t, err)
	require.Equal(t, 0, results.Total)
	require.Nil(t, results.Cheapest)
}

func TestResolveAirport(t *testing.T) {
	server, _ := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v1/reference-data/locations": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "CITY,AIRPORT", r.URL.Query().Get("subType"))
			require.Equal(t, "Paris", r.URL.Query().Get("keyword"))
			fmt.Fprint(w, `{"data":[{"iataCode":"PAR","name":"Paris"}]}`)
		},
	})
	client := newFakeClient(t, server)

	result, err := client.ResolveAirport(context.Background(), coastline.AirportQuery{City: "Paris"})
	require.NoError(t, err)
	require.Equal(t, "PAR", result.IATACode)
	require.Equal(t, "Paris", result.City)
}

func TestResolveAirportNoMatch(t *testing.T) {
	server, _ := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v1/reference-data/locations": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":[]}`)
		},
	})
	client := newFakeClient(t, server)

	_, err := client.ResolveAirport(context.Background(), coastline.AirportQuery{City: "Atlantis"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no airport found")
}

func TestExpiredTokenIsRefreshedAndRetried(t *testing.T) {
	var apiCalls int32
	server, tokenRequests := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v1/reference-data/locations": func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&apiCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"data":[{"iataCode":"PAR","name":"Paris"}]}`)
		},
	})
	client := newFakeClient(t, server)

	result, err := client.ResolveAirport(context.Background(), coastline.AirportQuery{City: "Paris"})
	require.NoError(t, err)
	require.Equal(t, "PAR", result.IATACode)
	// The 401 invalidated the cached token, so the retry fetched a fresh
	// one.
	require.Equal(t, int32(2), atomic.LoadInt32(tokenRequests))
	require.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var apiCalls int32
	server, _ := fakeAmadeus(t, map[string]http.HandlerFunc{
		"/v2/shopping/flight-offers": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&apiCalls, 1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"errors":[{"detail":"bad date"}]}`)
		},
	})
	client := newFakeClient(t, server)

	_, err := client.SearchFlights(context.Background(), coastline.FlightQuery{
		Origin:        "JFK",
		Destination:   "CDG",
		DepartureDate: "not-a-date",
	})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&apiCalls))
}

func TestStayNights(t *testing.T) {
	require.Equal(t, 3, stayNights("2026-09-10", "2026-09-13"))
	require.Equal(t, 1, stayNights("2026-09-10", "2026-09-10"))
	require.Equal(t, 1, stayNights("garbage", "2026-09-13"))
}
