// Package verify looks wines up in an external ratings service.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Client queries GET {BaseURL}/wines/lookup?producer=&name=&vintage=.
// A 404 means the service does not know the wine.
type Client struct {
	BaseURL string
	APIKey  string
	Source  string

	HTTPClient *http.Client
}

var _ enrich.Verifier = (*Client)(nil)

type lookupResponse struct {
	Source     string        `json:"source"`
	Confidence float64       `json:"confidence"`
	Rating     float64       `json:"rating"`
	WineType   string        `json:"wine_type"`
	Style      string        `json:"style"`
	Region     string        `json:"region"`
	Profile    store.Profile `json:"profile"`
}

// Lookup implements enrich.Verifier.
func (c *Client) Lookup(ctx context.Context, producer, name, vintage string) (enrich.Verification, bool, error) {
	if c.BaseURL == "" {
		return enrich.Verification{}, false, fmt.Errorf("verify: base URL required: %w", internalerr.ErrInvalidConfig)
	}
	q := url.Values{}
	q.Set("name", name)
	if producer != "" {
		q.Set("producer", producer)
	}
	if vintage != "" {
		q.Set("vintage", vintage)
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/wines/lookup?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return enrich.Verification{}, false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return enrich.Verification{}, false, fmt.Errorf("verify: %v: %w", err, internalerr.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return enrich.Verification{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return enrich.Verification{}, false, fmt.Errorf("verify: status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(snippet), internalerr.ErrUpstream)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return enrich.Verification{}, false, fmt.Errorf("verify: decode response: %v: %w", err, internalerr.ErrUpstream)
	}

	src := payload.Source
	if src == "" {
		src = c.Source
	}
	return enrich.Verification{
		Source:     src,
		Confidence: payload.Confidence,
		Rating:     payload.Rating,
		WineType:   payload.WineType,
		Style:      payload.Style,
		Region:     payload.Region,
		Profile:    payload.Profile,
	}, true, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
