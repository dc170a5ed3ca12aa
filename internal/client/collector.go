package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/worldbrain/capi-gateway/internal/attribution"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Identifiers are the attribution values cached for the visitor.
type Identifiers struct {
	Fbc string
	Fbp string
	IP  string
}

// Collector captures the click id, pixel id and client IP into a Store.
type Collector struct {
	serverURL string
	store     Store
	http      HTTPDoer
	ttl       time.Duration
	now       func() time.Time
}

// NewCollector creates a Collector that resolves the client IP through the
// gateway at serverURL.
func NewCollector(serverURL string, store Store, httpClient HTTPDoer) *Collector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Collector{
		serverURL: strings.TrimRight(serverURL, "/"),
		store:     store,
		http:      httpClient,
		ttl:       attribution.CookieMaxAge,
		now:       time.Now,
	}
}

// Collect records the identifiers for a visit to pageURL. A fbclid in the
// URL replaces the stored click id unless it is the same click; the pixel id
// is minted once and then reused. Collect is best-effort: an error means
// some identifier could not be stored, and tracking still works without it.
func (c *Collector) Collect(ctx context.Context, pageURL string) error {
	now := c.now()

	if fbclid := attribution.ClickIDFromURL(pageURL); fbclid != "" {
		existing, _, err := c.store.Get(ctx, attribution.CookieClickID)
		if err != nil {
			return fmt.Errorf("client: read click id: %w", err)
		}
		if attribution.ClickIDPayload(existing) != fbclid {
			if err := c.store.Set(ctx, attribution.CookieClickID, attribution.FormatClickID(fbclid, now), c.ttl); err != nil {
				return fmt.Errorf("client: store click id: %w", err)
			}
		}
	}

	fbp, err := c.store.SetIfAbsent(ctx, attribution.CookiePixelID, attribution.NewPixelID(now), c.ttl)
	if err != nil {
		return fmt.Errorf("client: store pixel id: %w", err)
	}
	if !attribution.ValidPixelID(fbp) {
		if err := c.store.Set(ctx, attribution.CookiePixelID, attribution.NewPixelID(now), c.ttl); err != nil {
			return fmt.Errorf("client: replace pixel id: %w", err)
		}
	}

	ip, err := c.fetchIP(ctx)
	if err != nil {
		return err
	}
	if ip != "" {
		if err := c.store.Set(ctx, attribution.CookieClientIP, ip, c.ttl); err != nil {
			return fmt.Errorf("client: store client ip: %w", err)
		}
	}
	return nil
}

// Identifiers returns what is currently stored. Missing values are empty.
func (c *Collector) Identifiers(ctx context.Context) (Identifiers, error) {
	return loadIdentifiers(ctx, c.store)
}

func loadIdentifiers(ctx context.Context, store Store) (Identifiers, error) {
	var ids Identifiers
	for key, dst := range map[string]*string{
		attribution.CookieClickID:  &ids.Fbc,
		attribution.CookiePixelID:  &ids.Fbp,
		attribution.CookieClientIP: &ids.IP,
	} {
		v, _, err := store.Get(ctx, key)
		if err != nil {
			return Identifiers{}, fmt.Errorf("client: read %s: %w", key, err)
		}
		*dst = v
	}
	return ids, nil
}

func (c *Collector) fetchIP(ctx context.Context) (string, error) {
	endpoint, err := url.JoinPath(c.serverURL, "/api/ip")
	if err != nil {
		return "", fmt.Errorf("client: ip endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("client: create ip request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: resolve ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("client: resolve ip: status %d", resp.StatusCode)
	}
	var out struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("client: decode ip: %w", err)
	}
	return strings.TrimSpace(out.IP), nil
}
