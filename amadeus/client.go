// Package amadeus implements flight, hotel, and airport lookups against the
// Amadeus Self-Service REST APIs. Authentication uses the OAuth2 client
// credentials flow; tokens are cached and refreshed shortly before expiry.
package amadeus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/coastline"
	"github.com/deepnoodle-ai/coastline/retry"
)

// DefaultBaseURL is the Amadeus test environment.
const DefaultBaseURL = "https://test.api.amadeus.com"

// Options configures the client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	// MaxResults caps the offers returned per search. Zero means 5.
	MaxResults int
}

// Client talks to the Amadeus APIs. It implements coastline.FlightSearcher,
// coastline.HotelSearcher, and coastline.AirportResolver and is safe for
// concurrent use.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	maxResults   int

	mutex       sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New validates the credentials and returns a ready client.
func New(opts Options) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("amadeus client id and secret are required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		httpClient:   httpClient,
		maxResults:   maxResults,
	}, nil
}

// SearchFlights returns priced flight offers for one leg, cheapest first.
func (c *Client) SearchFlights(ctx context.Context, query coastline.FlightQuery) (*coastline.FlightResults, error) {
	if query.Origin == "" || query.Destination == "" || query.DepartureDate == "" {
		return nil, errors.New("origin, destination, and departure_date are required")
	}
	adults := query.Adults
	if adults < 1 {
		adults = 1
	}
	params := url.Values{
		"originLocationCode":      {query.Origin},
		"destinationLocationCode": {query.Destination},
		"departureDate":           {query.DepartureDate},
		"adults":                  {strconv.Itoa(adults)},
		"currencyCode":            {"USD"},
		"max":                     {strconv.Itoa(c.maxResults)},
	}
	if query.ReturnDate != "" {
		params.Set("returnDate", query.ReturnDate)
	}

	var payload flightOffersResponse
	if err := c.get(ctx, "/v2/shopping/flight-offers", params, &payload); err != nil {
		return nil, fmt.Errorf("flight search failed: %w", err)
	}

	results := &coastline.FlightResults{}
	for _, offer := range payload.Data {
		price, err := strconv.ParseFloat(offer.Price.GrandTotal, 64)
		if err != nil {
			continue
		}
		stops := 0
		airline := ""
		if len(offer.Itineraries) > 0 {
			stops = len(offer.Itineraries[0].Segments) - 1
			if len(offer.Itineraries[0].Segments) > 0 {
				airline = offer.Itineraries[0].Segments[0].CarrierCode
			}
		}
		results.Flights = append(results.Flights, coastline.FlightOption{
			Airline:    airline,
			TotalPrice: price,
			Currency:   offer.Price.Currency,
			Stops:      stops,
		})
	}
	sort.Slice(results.Flights, func(i, j int) bool {
		return results.Flights[i].TotalPrice < results.Flights[j].TotalPrice
	})
	results.Total = len(results.Flights)
	if results.Total > 0 {
		cheapest := results.Flights[0]
		results.Cheapest = &cheapest
	}
	return results, nil
}

// SearchHotels returns priced hotel offers for a city and stay, cheapest
// first. The lookup is two-step: hotel IDs by city, then offers by hotel ID.
func (c *Client) SearchHotels(ctx context.Context, query coastline.HotelQuery) (*coastline.HotelResults, error) {
	if query.CityCode == "" || query.CheckIn == "" || query.CheckOut == "" {
		return nil, errors.New("city_code, check_in, and check_out are required")
	}
	adults := query.Adults
	if adults < 1 {
		adults = 1
	}

	var hotels hotelListResponse
	err := c.get(ctx, "/v1/reference-data/locations/hotels/by-city", url.Values{
		"cityCode": {query.CityCode},
	}, &hotels)
	if err != nil {
		return nil, fmt.Errorf("hotel lookup failed: %w", err)
	}
	if len(hotels.Data) == 0 {
		return &coastline.HotelResults{}, nil
	}
	ids := make([]string, 0, c.maxResults)
	for _, h := range hotels.Data {
		ids = append(ids, h.HotelID)
		if len(ids) >= c.maxResults {
			break
		}
	}

	var offers hotelOffersResponse
	err = c.get(ctx, "/v3/shopping/hotel-offers", url.Values{
		"hotelIds":     {strings.Join(ids, ",")},
		"checkInDate":  {query.CheckIn},
		"checkOutDate": {query.CheckOut},
		"adults":       {strconv.Itoa(adults)},
		"currency":     {"USD"},
	}, &offers)
	if err != nil {
		return nil, fmt.Errorf("hotel offer search failed: %w", err)
	}

	nights := stayNights(query.CheckIn, query.CheckOut)
	results := &coastline.HotelResults{}
	for _, entry := range offers.Data {
		if len(entry.Offers) == 0 {
			continue
		}
		total, err := strconv.ParseFloat(entry.Offers[0].Price.Total, 64)
		if err != nil {
			continue
		}
		perNight := total
		if nights > 1 {
			perNight = total / float64(nights)
		}
		results.Hotels = append(results.Hotels, coastline.HotelOption{
			Name:          entry.Hotel.Name,
			PricePerNight: perNight,
			TotalPrice:    total,
			Currency:      entry.Offers[0].Price.Currency,
		})
	}
	sort.Slice(results.Hotels, func(i, j int) bool {
		return results.Hotels[i].TotalPrice < results.Hotels[j].TotalPrice
	})
	results.Total = len(results.Hotels)
	if results.Total > 0 {
		cheapest := results.Hotels[0]
		results.Cheapest = &cheapest
	}
	return results, nil
}

// ResolveAirport maps a city name to its IATA city/airport code.
func (c *Client) ResolveAirport(ctx context.Context, query coastline.AirportQuery) (*coastline.AirportResult, error) {
	if query.City == "" {
		return nil, errors.New("city is required")
	}
	var payload locationsResponse
	err := c.get(ctx, "/v1/reference-data/locations", url.Values{
		"subType": {"CITY,AIRPORT"},
		"keyword": {query.City},
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("airport lookup failed: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("no airport found for %q", query.City)
	}
	return &coastline.AirportResult{
		City:     query.City,
		IATACode: payload.Data[0].IATACode,
	}, nil
}

// get performs an authenticated GET with retries on transient failures.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return retry.Do(ctx, func() error {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return retry.NewNonRecoverableError(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return json.Unmarshal(body, out)
		case resp.StatusCode == http.StatusUnauthorized:
			c.invalidateToken()
			return retry.NewRecoverableError(fmt.Errorf("token rejected: %s", body))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.NewRecoverableError(fmt.Errorf("amadeus %s: %s", resp.Status, body))
		default:
			return retry.NewNonRecoverableError(fmt.Errorf("amadeus %s: %s", resp.Status, body))
		}
	}, retry.WithBaseWait(500*time.Millisecond), retry.WithJitter(true))
}

// token returns a valid access token, refreshing when within a minute of
// expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", retry.NewNonRecoverableError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %s: %s", resp.Status, body)
	}
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.accessToken = ""
}

func stayNights(checkIn, checkOut string) int {
	in, err1 := time.Parse("2006-01-02", checkIn)
	out, err2 := time.Parse("2006-01-02", checkOut)
	if err1 != nil || err2 != nil {
		return 1
	}
	nights := int(out.Sub(in).Hours() / 24)
	if nights < 1 {
		return 1
	}
	return nights
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type flightOffersResponse struct {
	Data []struct {
		Price struct {
			GrandTotal string `json:"grandTotal"`
			Currency   string `json:"currency"`
		} `json:"price"`
		Itineraries []struct {
			Segments []struct {
				CarrierCode string `json:"carrierCode"`
			} `json:"segments"`
		} `json:"itineraries"`
	} `json:"data"`
}

type hotelListResponse struct {
	Data []struct {
		HotelID string `json:"hotelId"`
		Name    string `json:"name"`
	} `json:"data"`
}

type hotelOffersResponse struct {
	Data []struct {
		Hotel struct {
			Name string `json:"name"`
		} `json:"hotel"`
		Offers []struct {
			Price struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"offers"`
	} `json:"data"`
}

type locationsResponse struct {
	Data []struct {
		IATACode string `json:"iataCode"`
		Name     string `json:"name"`
	} `json:"data"`
}
