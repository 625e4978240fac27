// Package geocode implements forward geocoding against the OSM Nominatim
// search API. Nominatim's usage policy requires an identifying User-Agent and
// at most one request per second, so the client serializes requests through a
// rate limiter.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/coastline"
)

// DefaultBaseURL is the public Nominatim instance.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Options configures the client.
type Options struct {
	BaseURL   string
	UserAgent string

	HTTPClient *http.Client

	// MinInterval is the minimum gap between requests. Zero means one
	// second, the public instance's policy.
	MinInterval time.Duration
}

// Client implements coastline.Geocoder against Nominatim.
type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	minInterval time.Duration

	mutex    sync.Mutex
	lastCall time.Time
}

// New validates the options and returns a ready client.
func New(opts Options) (*Client, error) {
	if opts.UserAgent == "" {
		return nil, errors.New("user agent is required by the nominatim usage policy")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	minInterval := opts.MinInterval
	if minInterval == 0 {
		minInterval = time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		userAgent:   opts.UserAgent,
		httpClient:  httpClient,
		minInterval: minInterval,
	}, nil
}

// Geocode resolves a free-form address to coordinates. An address Nominatim
// cannot resolve yields Found false, not an error.
func (c *Client) Geocode(ctx context.Context, address string) (*coastline.GeocodeResult, error) {
	if address == "" {
		return &coastline.GeocodeResult{}, nil
	}
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim %s: %s", resp.Status, body)
	}

	var places []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim response: %w", err)
	}
	if len(places) == 0 {
		return &coastline.GeocodeResult{}, nil
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", places[0].Lat)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", places[0].Lon)
	}
	return &coastline.GeocodeResult{Lat: lat, Lng: lng, Found: true}, nil
}

func (c *Client) throttle(ctx context.Context) error {
	c.mutex.Lock()
	wait := c.minInterval - time.Since(c.lastCall)
	c.lastCall = time.Now().Add(wait)
	c.mutex.Unlock()
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
