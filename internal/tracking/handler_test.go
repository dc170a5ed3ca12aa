package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/capi"
)

type sendCall struct {
	name     string
	rc       capi.RequestContext
	userData map[string]any
	eventID  string
}

type fakeForwarder struct {
	mu         sync.Mutex
	sends      []sendCall
	dispatches []sendCall
	id         string
	err        error
}

func (f *fakeForwarder) Send(_ context.Context, name string, rc capi.RequestContext, userData map[string]any, eventID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{name, rc, userData, eventID})
	return f.id, f.err
}

func (f *fakeForwarder) Dispatch(name string, rc capi.RequestContext, userData map[string]any, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, sendCall{name, rc, userData, eventID})
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/api", h.Routes())
	r.Get("/health", h.HandleHealth)
	return r
}

func postEvent(t *testing.T, srv http.Handler, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleEventForwards(t *testing.T) {
	fwd := &fakeForwarder{id: "AbCdEf"}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder([]string{"ultravelozmente.com"})))

	rec := postEvent(t, srv, `{"eventName":"Lead","userData":{"em":"user@example.com","value":10},"eventId":"evt-1"}`,
		func(r *http.Request) {
			r.Header.Set("Referer", "https://ultravelozmente.com/contact.html")
			r.Header.Set("X-Forwarded-For", "2001:db8::1")
			r.AddCookie(&http.Cookie{Name: attribution.CookiePixelID, Value: "fb.1.1767225600000.1234567890"})
		})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "AbCdEf", resp["platformEventId"])

	require.Len(t, fwd.sends, 1)
	call := fwd.sends[0]
	assert.Equal(t, "Lead", call.name)
	assert.Equal(t, "evt-1", call.eventID)
	assert.Equal(t, "https://ultravelozmente.com/contact.html", call.rc.SourceURL)
	assert.Equal(t, "user@example.com", call.userData["em"])

	require.NotNil(t, call.rc.Attribution)
	ip, ok := call.rc.Attribution.ClientIP()
	assert.True(t, ok)
	assert.Equal(t, "2001:db8::1", ip)
	fbp, ok := call.rc.Attribution.PixelID()
	assert.True(t, ok)
	assert.Equal(t, "fb.1.1767225600000.1234567890", fbp)
}

func TestHandleEventSourceURLWithoutReferer(t *testing.T) {
	fwd := &fakeForwarder{}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder(nil)))

	rec := postEvent(t, srv, `{"eventName":"Lead"}`, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
		r.Header.Set("X-Forwarded-Host", "ultravelozmente.com")
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fwd.sends, 1)
	assert.Equal(t, "https://ultravelozmente.com/api/event", fwd.sends[0].rc.SourceURL)
}

func TestHandleEventMissingName(t *testing.T) {
	fwd := &fakeForwarder{}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder(nil)))

	for _, body := range []string{`{}`, `{"eventName":"  ","userData":{"em":"x@example.com"}}`} {
		rec := postEvent(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "eventName is required")
	}
	assert.Empty(t, fwd.sends, "no outbound call for a rejected event")
}

func TestHandleEventBadBody(t *testing.T) {
	fwd := &fakeForwarder{}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder(nil)))

	assert.Equal(t, http.StatusBadRequest, postEvent(t, srv, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, postEvent(t, srv, ``).Code)
	assert.Empty(t, fwd.sends)
}

func TestHandleEventUnexpectedError(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("normalizer exploded")}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder(nil)))

	rec := postEvent(t, srv, `{"eventName":"Lead"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestHandleEventNoPlatformID(t *testing.T) {
	fwd := &fakeForwarder{}
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder(nil)))

	rec := postEvent(t, srv, `{"eventName":"Contact"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestHandleIP(t *testing.T) {
	srv := newTestRouter(NewHandler(&fakeForwarder{}, attribution.NewParamBuilder(nil)))

	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"ipv6 preferred", "203.0.113.5, 2001:db8::7", "10.0.0.1:1234", "2001:db8::7"},
		{"first forwarded entry", "203.0.113.5, 198.51.100.2", "10.0.0.1:1234", "203.0.113.5"},
		{"socket address", "", "192.0.2.10:5555", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ip", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp["ip"])
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestRouter(NewHandler(&fakeForwarder{}, attribution.NewParamBuilder(nil)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// End to end: browser event in, Conversions API request out.
func TestHandleEventReachesPlatform(t *testing.T) {
	var got map[string]any
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"events_received":1,"fbtrace_id":"trace-xyz"}`))
	}))
	defer platform.Close()

	normalizer, err := capi.NewNormalizer(capi.DefaultTaxonomy(), attribution.PIINormalizer{DefaultCountryCode: "52"})
	require.NoError(t, err)
	client := capi.NewClient(capi.Config{BaseURL: platform.URL, APIVersion: "v21.0", PixelID: "42", AccessToken: "t"})
	fwd := capi.NewForwarder(client, normalizer)
	srv := newTestRouter(NewHandler(fwd, attribution.NewParamBuilder([]string{"ultravelozmente.com"})))

	rec := postEvent(t, srv, `{"eventName":"Lead","userData":{"em":"User@Example.com","value":10}}`,
		func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.8") })

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"platformEventId":"trace-xyz"}`, rec.Body.String())

	data := got["data"].([]any)
	require.Len(t, data, 1)
	ev := data[0].(map[string]any)
	assert.Equal(t, "Lead", ev["event_name"])
	assert.Equal(t, "website", ev["action_source"])
	userData := ev["user_data"].(map[string]any)
	assert.Equal(t, []any{"b4c9a289323b21a01c3e940f150eb9b8c542587f1abfd8f0e1cc1ffc5e475514"}, userData["em"])
	assert.Equal(t, "203.0.113.8", userData["client_ip_address"])
	assert.NotEmpty(t, userData["fbp"])
	assert.Equal(t, map[string]any{"value": float64(10)}, ev["custom_data"])
}

func TestHandleEventHashesNumericPII(t *testing.T) {
	var got map[string]any
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"events_received":1,"fbtrace_id":"trace-num"}`))
	}))
	defer platform.Close()

	normalizer, err := capi.NewNormalizer(capi.DefaultTaxonomy(), attribution.PIINormalizer{DefaultCountryCode: "52"})
	require.NoError(t, err)
	client := capi.NewClient(capi.Config{BaseURL: platform.URL, APIVersion: "v21.0", PixelID: "42", AccessToken: "t"})
	srv := newTestRouter(NewHandler(capi.NewForwarder(client, normalizer), attribution.NewParamBuilder(nil)))

	rec := postEvent(t, srv, `{"eventName":"Lead","userData":{"ph":5215512345678,"external_id":1234567}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	userData := got["data"].([]any)[0].(map[string]any)["user_data"].(map[string]any)
	assert.Equal(t, []any{sha256Hex("5215512345678")}, userData["ph"])
	assert.Equal(t, []any{sha256Hex("1234567")}, userData["external_id"])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
