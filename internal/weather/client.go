// Package weather talks to the forecast service that drives the pricing surcharge.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

// Oracle returns the forecast temperature in °C for a location on a date (YYYY-MM-DD).
type Oracle interface {
	Temperature(ctx context.Context, location, date string) (float64, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type forecastResponse struct {
	Temperature *float64 `json:"temperature"`
}

func (c *Client) Temperature(ctx context.Context, location, date string) (float64, error) {
	q := url.Values{}
	q.Set("location", location)
	q.Set("date", date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: weather request: %v", domain.ErrTransientDependency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: weather service answered %d", domain.ErrTransientDependency, resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decode weather response: %v", domain.ErrTransientDependency, err)
	}
	if body.Temperature == nil {
		return 0, fmt.Errorf("%w: weather response has no temperature", domain.ErrTransientDependency)
	}
	return *body.Temperature, nil
}

var _ Oracle = (*Client)(nil)

// Fixed always answers the same temperature. Used when no forecast service is configured.
type Fixed float64

func (f Fixed) Temperature(context.Context, string, string) (float64, error) {
	return float64(f), nil
}
