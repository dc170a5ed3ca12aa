package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldbrain/capi-gateway/internal/attribution"
)

func ipServer(t *testing.T, ip string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ip", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"` + ip + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectStoresIdentifiers(t *testing.T) {
	srv := ipServer(t, "2001:db8::5")
	store := NewMemoryStore()
	c := NewCollector(srv.URL, store, srv.Client())
	c.now = func() time.Time { return time.UnixMilli(1767225600000) }

	require.NoError(t, c.Collect(context.Background(), "https://ultravelozmente.com/?fbclid=IwAR42"))

	ids, err := c.Identifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fb.1.1767225600000.IwAR42", ids.Fbc)
	assert.True(t, attribution.ValidPixelID(ids.Fbp))
	assert.Equal(t, "2001:db8::5", ids.IP)
}

func TestCollectKeepsSameClick(t *testing.T) {
	srv := ipServer(t, "203.0.113.2")
	store := NewMemoryStore()
	c := NewCollector(srv.URL, store, srv.Client())
	ctx := context.Background()

	c.now = func() time.Time { return time.UnixMilli(1767225600000) }
	require.NoError(t, c.Collect(ctx, "https://ultravelozmente.com/?fbclid=IwAR42"))
	first, err := c.Identifiers(ctx)
	require.NoError(t, err)

	c.now = func() time.Time { return time.UnixMilli(1767229200000) }
	require.NoError(t, c.Collect(ctx, "https://ultravelozmente.com/robotics?fbclid=IwAR42"))
	second, err := c.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Fbc, second.Fbc, "same click keeps its original timestamp")
	assert.Equal(t, first.Fbp, second.Fbp)

	require.NoError(t, c.Collect(ctx, "https://ultravelozmente.com/?fbclid=IwAR99"))
	third, err := c.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fb.1.1767229200000.IwAR99", third.Fbc)
	assert.Equal(t, first.Fbp, third.Fbp)
}

func TestCollectWithoutClickID(t *testing.T) {
	srv := ipServer(t, "203.0.113.2")
	c := NewCollector(srv.URL, NewMemoryStore(), srv.Client())

	require.NoError(t, c.Collect(context.Background(), "https://ultravelozmente.com/contact"))
	ids, err := c.Identifiers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids.Fbc)
	assert.NotEmpty(t, ids.Fbp)
}

func TestCollectIPFailureKeepsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewCollector(srv.URL, NewMemoryStore(), srv.Client())

	err := c.Collect(context.Background(), "https://ultravelozmente.com/?fbclid=abc")
	require.Error(t, err)

	ids, err := c.Identifiers(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ids.Fbc)
	assert.NotEmpty(t, ids.Fbp)
	assert.Empty(t, ids.IP)
}

func TestConcurrentCollectConverges(t *testing.T) {
	srv := ipServer(t, "203.0.113.2")
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, "visitor:7:")

	const runs = 10
	var wg sync.WaitGroup
	fbps := make([]string, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewCollector(srv.URL, store, srv.Client())
			assert.NoError(t, c.Collect(context.Background(), "https://ultravelozmente.com/"))
			ids, err := c.Identifiers(context.Background())
			assert.NoError(t, err)
			fbps[i] = ids.Fbp
		}(i)
	}
	wg.Wait()

	for _, fbp := range fbps {
		assert.Equal(t, fbps[0], fbp)
	}
}
