package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/capi"
	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

// Tracker fires events through the pixel channel and the gateway's
// /api/event endpoint.
type Tracker struct {
	serverURL string
	store     Store
	http      HTTPDoer
	pixel     Pixel
	analytics Analytics
	timeout   time.Duration

	wg sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

func WithPixel(p Pixel) TrackerOption {
	return func(t *Tracker) { t.pixel = p }
}

func WithAnalytics(a Analytics) TrackerOption {
	return func(t *Tracker) { t.analytics = a }
}

// WithStore attaches cached identifiers to every event.
func WithStore(s Store) TrackerOption {
	return func(t *Tracker) { t.store = s }
}

func WithHTTPClient(c HTTPDoer) TrackerOption {
	return func(t *Tracker) { t.http = c }
}

// NewTracker creates a Tracker posting to the gateway at serverURL.
func NewTracker(serverURL string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		serverURL: strings.TrimRight(serverURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type eventBody struct {
	EventName string         `json:"eventName"`
	UserData  map[string]any `json:"userData"`
	EventID   string         `json:"eventId"`
}

// Track fires name on every configured channel and returns the event id
// shared by all of them. It never blocks on the network and never panics;
// failures are logged.
func (t *Tracker) Track(name string, userData map[string]any) string {
	eventID := capi.NewEventID()

	data := make(map[string]any, len(userData)+3)
	for k, v := range userData {
		data[k] = v
	}

	if t.pixel != nil {
		t.safely("pixel", name, func() error { return t.pixel.Track(name, data, eventID) })
	}
	if t.analytics != nil {
		t.safely("analytics", name, func() error { return t.analytics.Event(AnalyticsEventName(name), data) })
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tracker post panic", "event", name, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		body := eventBody{EventName: name, UserData: t.withIdentifiers(ctx, data), EventID: eventID}
		if err := t.post(ctx, body); err != nil {
			logger.Warn("tracker post failed", "event", name, "event_id", eventID, "err", err)
		}
	}()
	return eventID
}

// Wait blocks until every event posted so far has completed.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) safely(channel, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tracker channel panic", "channel", channel, "event", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("tracker channel failed", "channel", channel, "event", name, "err", err)
	}
}

// withIdentifiers returns a copy of data with the cached identifiers added
// for the keys the caller left empty.
func (t *Tracker) withIdentifiers(ctx context.Context, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	if t.store == nil {
		return out
	}
	ids, err := loadIdentifiers(ctx, t.store)
	if err != nil {
		logger.Warn("tracker identifiers unavailable", "err", err)
		return out
	}
	for key, val := range map[string]string{
		capi.FieldClickID:  ids.Fbc,
		capi.FieldPixelID:  ids.Fbp,
		capi.FieldClientIP: ids.IP,
	} {
		if _, set := out[key]; !set && val != "" {
			out[key] = val
		}
	}
	return out
}

func (t *Tracker) post(ctx context.Context, body eventBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	endpoint, err := url.JoinPath(t.serverURL, "/api/event")
	if err != nil {
		return fmt.Errorf("event endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.store != nil {
		t.addCookies(ctx, req)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// addCookies sends the stored identifiers the way a browser would, so the
// gateway's attribution builder sees them too.
func (t *Tracker) addCookies(ctx context.Context, req *http.Request) {
	for _, name := range []string{attribution.CookieClickID, attribution.CookiePixelID, attribution.CookieClientIP} {
		if v, ok, err := t.store.Get(ctx, name); err == nil && ok {
			req.AddCookie(&http.Cookie{Name: name, Value: v})
		}
	}
}
