// Package provider implements the dispatch port. The real transport,
// timeout and retry policy belong to the provider-side collaborator; the
// core only consumes the final status/latency pair, so the HTTP client
// here stays deliberately plain.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/ports"
)

// HTTPDispatcher forwards admitted calls to the listing's declared
// endpoint under a configured base URL per provider host.
type HTTPDispatcher struct {
	client  *http.Client
	baseURL *url.URL
}

// HTTPConfig configures the dispatcher.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPDispatcher creates an HTTP dispatcher.
func NewHTTPDispatcher(cfg HTTPConfig) (*HTTPDispatcher, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}, nil
}

// Dispatch sends the call to the provider and reports status + latency.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, l listing.Listing, query string, body []byte) (ports.ProviderResult, error) {
	target := d.baseURL.ResolveReference(&url.URL{
		Path:     l.Endpoint.Path,
		RawQuery: query,
	})

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, l.Endpoint.Method, target.String(), reader)
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("build provider request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("dispatch to provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("read provider response: %w", err)
	}

	return ports.ProviderResult{
		StatusCode: resp.StatusCode,
		LatencyMs:  latency,
		Body:       respBody,
	}, nil
}

var _ ports.Provider = (*HTTPDispatcher)(nil)

// Static returns a canned envelope for every dispatch. Used in dev mode
// and tests, where no real provider sits behind the gateway.
type Static struct {
	StatusCode int
	LatencyMs  int64
}

// Dispatch returns the canned result.
func (s Static) Dispatch(ctx context.Context, l listing.Listing, query string, body []byte) (ports.ProviderResult, error) {
	status := s.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	envelope, _ := json.Marshal(map[string]any{
		"api":     l.Name,
		"version": l.Version,
		"message": "ok",
	})
	return ports.ProviderResult{
		StatusCode: status,
		LatencyMs:  s.LatencyMs,
		Body:       envelope,
	}, nil
}

var _ ports.Provider = Static{}
