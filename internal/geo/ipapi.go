// Package geo resolves client IP addresses to coarse locations using an ip-api.com compatible endpoint.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pharma/backend/internal/session/domain"
)

const (
	defaultBaseURL = "http://ip-api.com/json"
	defaultTimeout = 2 * time.Second
)

// IPAPIClient looks up IP locations via ip-api.com (GET {BaseURL}/{ip}).
type IPAPIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewIPAPIClient returns a client for baseURL (default ip-api.com) whose requests are bounded by timeout.
func NewIPAPIClient(baseURL string, timeout time.Duration) *IPAPIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &IPAPIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Lookup returns the location for ip. Private, loopback, and unparsable addresses return (nil, nil)
// without a request. A non-success answer from the provider is an error.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (*domain.Location, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+url.PathEscape(addr.String()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geo: request failed status=%d body=%s", resp.StatusCode, string(b))
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo: decode: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geo: lookup failed: %s", body.Message)
	}
	return &domain.Location{
		Country: body.Country,
		Region:  body.RegionName,
		City:    body.City,
		Lat:     body.Lat,
		Lon:     body.Lon,
	}, nil
}
