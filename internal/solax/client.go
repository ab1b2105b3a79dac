package solax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"solax-monitor/internal/inverter"
)

const (
	DefaultBaseURL = "https://global.solaxcloud.com"
	realtimePath   = "/api/v2/dataAccess/realtimeInfo/get"
)

// ErrUpstream marks responses the SolaX API answered but rejected.
var ErrUpstream = errors.New("solax upstream error")

type Client struct {
	baseURL string
	tokenID string
	client  *http.Client
}

// Response is the SolaX realtime envelope.
type Response struct {
	Success   *bool                 `json:"success,omitempty"`
	Exception string                `json:"exception,omitempty"`
	Code      any                   `json:"code,omitempty"`
	Result    inverter.RawTelemetry `json:"result"`
}

type realtimeRequest struct {
	WifiSN string `json:"wifiSn"`
}

// NewClient creates a SolaX Cloud client. A zero timeout leaves requests
// bounded only by the caller's context.
func NewClient(baseURL, tokenID string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokenID: tokenID,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the raw realtime telemetry for the inverter behind the
// given Wi-Fi dongle serial.
func (c *Client) Fetch(ctx context.Context, serial string) (inverter.RawTelemetry, error) {
	resp, err := c.Realtime(ctx, serial)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("%w: result missing for %s", ErrUpstream, serial)
	}
	return resp.Result, nil
}

// Realtime performs the realtimeInfo call and returns the full envelope.
func (c *Client) Realtime(ctx context.Context, serial string) (*Response, error) {
	if c.tokenID == "" {
		return nil, fmt.Errorf("solax token id is empty")
	}
	if strings.TrimSpace(serial) == "" {
		return nil, fmt.Errorf("solax serial number is empty")
	}

	body, err := json.Marshal(realtimeRequest{WifiSN: serial})
	if err != nil {
		return nil, fmt.Errorf("solax encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+realtimePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("solax request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("tokenId", c.tokenID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solax request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: bad status: %s", ErrUpstream, resp.Status)
	}

	var payload Response
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("solax decode: %w", err)
	}

	if payload.Success != nil && !*payload.Success {
		reason := strings.TrimSpace(payload.Exception)
		if reason == "" {
			reason = "request was not successful"
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, reason)
	}

	return &payload, nil
}
