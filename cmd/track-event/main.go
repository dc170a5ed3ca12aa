// Command track-event fires one conversion event at a running gateway the
// way the site's browser code does: collect identifiers for a page visit,
// then track the event through the server channel.
//
//	track-event -server http://localhost:3000 -url 'https://ultravelozmente.com/?fbclid=abc' \
//	    -event Lead -data em=user@example.com -data content_name=Robotics
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/worldbrain/capi-gateway/internal/client"
	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

type dataFlags map[string]any

func (d dataFlags) String() string {
	return fmt.Sprint(map[string]any(d))
}

func (d dataFlags) Set(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", kv)
	}
	d[strings.TrimSpace(k)] = v
	return nil
}

func main() {
	data := dataFlags{}
	serverURL := flag.String("server", "http://localhost:3000", "gateway base URL")
	pageURL := flag.String("url", "", "page URL of the simulated visit (fbclid is read from it)")
	event := flag.String("event", "PageView", "Conversions API event name")
	redisAddr := flag.String("redis", "", "Redis address for a shared identifier store (default: in-memory)")
	visitor := flag.String("visitor", "cli", "visitor key prefix in the Redis store")
	flag.Var(data, "data", "user data as key=value (repeatable)")
	flag.Parse()

	var store client.Store = client.NewMemoryStore()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		store = client.NewRedisStore(rdb, "capi:visitor:"+*visitor+":")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if *pageURL != "" {
		collector := client.NewCollector(*serverURL, store, nil)
		if err := collector.Collect(ctx, *pageURL); err != nil {
			logger.Warn("attribution collection incomplete", "err", err)
		}
	}

	tracker := client.NewTracker(*serverURL, client.WithStore(store))
	id := tracker.Track(*event, data)
	tracker.Wait()

	fmt.Fprintln(os.Stdout, id)
}
