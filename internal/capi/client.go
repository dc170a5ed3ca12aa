package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the Conversions API endpoint and credentials.
type Config struct {
	BaseURL       string
	APIVersion    string
	PixelID       string
	AccessToken   string
	TestEventCode string
	Timeout       time.Duration
}

// Client posts event batches to the Conversions API. It performs exactly one
// HTTP attempt per call.
type Client struct {
	baseURL       string
	apiVersion    string
	pixelID       string
	accessToken   string
	testEventCode string
	httpClient    HTTPDoer
}

// NewClient creates a new Conversions API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:    strings.Trim(cfg.APIVersion, "/"),
		pixelID:       cfg.PixelID,
		accessToken:   cfg.AccessToken,
		testEventCode: cfg.TestEventCode,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client HTTPDoer) {
	c.httpClient = client
}

type eventsRequest struct {
	Data          []*Payload `json:"data"`
	TestEventCode string     `json:"test_event_code,omitempty"`
}

// Response is the platform's answer to an accepted batch.
type Response struct {
	ID             string   `json:"id,omitempty"`
	EventsReceived int      `json:"events_received"`
	Messages       []string `json:"messages,omitempty"`
	FBTraceID      string   `json:"fbtrace_id"`
}

// PlatformEventID returns the id the platform assigned to the submission.
func (r *Response) PlatformEventID() string {
	if r == nil {
		return ""
	}
	if r.ID != "" {
		return r.ID
	}
	return r.FBTraceID
}

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
	FBTraceID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("capi: API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("capi: API error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("access_token", c.accessToken)
	return fmt.Sprintf("%s/%s/%s/events?%s", c.baseURL, c.apiVersion, url.PathEscape(c.pixelID), q.Encode())
}

// SendEvents submits events as one batch.
func (c *Client) SendEvents(ctx context.Context, events []*Payload) (*Response, error) {
	if len(events) == 0 {
		return nil, errors.New("capi: empty batch")
	}
	body, err := json.Marshal(eventsRequest{Data: events, TestEventCode: c.testEventCode})
	if err != nil {
		return nil, fmt.Errorf("capi: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("capi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capi: request failed: %w", redactToken(err, c.accessToken))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("capi: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Message   string `json:"message"`
				Type      string `json:"type"`
				Code      int    `json:"code"`
				FBTraceID string `json:"fbtrace_id"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
			apiErr.FBTraceID = envelope.Error.FBTraceID
		}
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("capi: parse response: %w", err)
	}
	return &out, nil
}

// redactToken strips the access token from transport errors, which embed the URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "REDACTED"))
}
