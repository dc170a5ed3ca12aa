package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldbrain/capi-gateway/internal/attribution"
)

type receivedEvent struct {
	body    eventBody
	cookies map[string]string
}

type eventServer struct {
	mu     sync.Mutex
	events []receivedEvent
	srv    *httptest.Server
}

func newEventServer(t *testing.T, status int) *eventServer {
	t.Helper()
	es := &eventServer{}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/event", r.URL.Path)
		var body eventBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		cookies := map[string]string{}
		for _, c := range r.Cookies() {
			cookies[c.Name] = c.Value
		}
		es.mu.Lock()
		es.events = append(es.events, receivedEvent{body: body, cookies: cookies})
		es.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *eventServer) received() []receivedEvent {
	es.mu.Lock()
	defer es.mu.Unlock()
	return append([]receivedEvent(nil), es.events...)
}

type recordingPixel struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *recordingPixel) Track(name string, userData map[string]any, eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, eventID)
	return p.err
}

type recordingAnalytics struct{ names []string }

func (a *recordingAnalytics) Event(name string, params map[string]any) error {
	a.names = append(a.names, name)
	return nil
}

func TestTrackSharesEventIDAcrossChannels(t *testing.T) {
	es := newEventServer(t, http.StatusOK)
	pixel := &recordingPixel{}
	analytics := &recordingAnalytics{}
	tr := NewTracker(es.srv.URL, WithPixel(pixel), WithAnalytics(analytics), WithHTTPClient(es.srv.Client()))

	id := tr.Track("Lead", map[string]any{"em": "user@example.com"})
	tr.Wait()

	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, pixel.ids)
	assert.Equal(t, []string{"generate_lead"}, analytics.names)

	events := es.received()
	require.Len(t, events, 1)
	assert.Equal(t, "Lead", events[0].body.EventName)
	assert.Equal(t, id, events[0].body.EventID)
	assert.Equal(t, "user@example.com", events[0].body.UserData["em"])
}

func TestTrackAttachesCachedIdentifiers(t *testing.T) {
	es := newEventServer(t, http.StatusOK)
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, attribution.CookieClickID, "fb.1.1.cached", time.Hour))
	require.NoError(t, store.Set(ctx, attribution.CookiePixelID, "fb.1.1.12345", time.Hour))
	require.NoError(t, store.Set(ctx, attribution.CookieClientIP, "2001:db8::9", time.Hour))

	tr := NewTracker(es.srv.URL, WithStore(store), WithHTTPClient(es.srv.Client()))
	tr.Track("Contact", map[string]any{"fbc": "fb.1.1.caller"})
	tr.Wait()

	events := es.received()
	require.Len(t, events, 1)
	data := events[0].body.UserData
	assert.Equal(t, "fb.1.1.caller", data["fbc"], "caller-supplied keys are kept")
	assert.Equal(t, "fb.1.1.12345", data["fbp"])
	assert.Equal(t, "2001:db8::9", data["client_ip_address"])
	assert.Equal(t, "fb.1.1.12345", events[0].cookies[attribution.CookiePixelID])
}

func TestTrackEventIDsAreUnique(t *testing.T) {
	es := newEventServer(t, http.StatusOK)
	tr := NewTracker(es.srv.URL, WithHTTPClient(es.srv.Client()))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := tr.Track("PageView", nil)
		assert.False(t, seen[id], "duplicate event id %s", id)
		seen[id] = true
	}
	tr.Wait()
	assert.Len(t, es.received(), 100)
}

func TestTrackSurvivesChannelFailures(t *testing.T) {
	es := newEventServer(t, http.StatusInternalServerError)
	tr := NewTracker(es.srv.URL,
		WithPixel(&recordingPixel{err: errors.New("pixel not loaded")}),
		WithHTTPClient(es.srv.Client()))

	id := tr.Track("Lead", nil)
	tr.Wait()

	assert.NotEmpty(t, id)
	assert.Len(t, es.received(), 1)
}

func TestTrackUnreachableServer(t *testing.T) {
	tr := NewTracker("http://127.0.0.1:1")
	id := tr.Track("Lead", nil)
	tr.Wait()
	assert.NotEmpty(t, id)
}

func TestAnalyticsEventName(t *testing.T) {
	assert.Equal(t, "page_view", AnalyticsEventName("PageView"))
	assert.Equal(t, "begin_checkout", AnalyticsEventName("InitiateCheckout"))
	assert.Equal(t, "sign_up", AnalyticsEventName("CompleteRegistration"))
	assert.Equal(t, "CustomThing", AnalyticsEventName("CustomThing"))
}
