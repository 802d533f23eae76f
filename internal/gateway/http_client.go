package gateway

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

	"autopilot/internal/config"
)

// Client talks to the order gateway over HTTP.
type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) SearchInstrument(ctx context.Context, query string) ([]Instrument, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	q := url.Values{}
	q.Set("q", query)
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/instruments/search", q, nil)
	if err != nil {
		return nil, err
	}
	var out []Instrument
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode instruments: %w", err)
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec) (PlaceResult, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, spec)
	if err != nil {
		return PlaceResult{}, err
	}
	var out PlaceResult
	if err := json.Unmarshal(body, &out); err != nil {
		return PlaceResult{}, fmt.Errorf("failed to decode order result: %w", err)
	}
	if out.OrderID == "" {
		return PlaceResult{}, &Error{Message: "gateway returned no order id"}
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: "failed to read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
