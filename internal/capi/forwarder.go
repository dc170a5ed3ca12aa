package capi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/diagnostics"
	"github.com/worldbrain/capi-gateway/internal/pkg/dedupe"
	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

const tracerName = "github.com/worldbrain/capi-gateway/internal/capi"

// Sender submits a batch of payloads. *Client implements it.
type Sender interface {
	SendEvents(ctx context.Context, events []*Payload) (*Response, error)
}

// RequestContext is what the forwarder knows about the inbound request that
// triggered an event.
type RequestContext struct {
	SourceURL  string
	UserAgent  string
	RemoteAddr string
	// Cookies are the raw identifier cookies, used when Attribution is nil
	// or could not derive a value.
	Cookies map[string]string
	// Attribution is the enrichment capability for this request; may be nil.
	Attribution Enricher
}

// Forwarder assembles events and delivers them to the platform.
type Forwarder struct {
	sender     Sender
	normalizer *Normalizer
	deduper    dedupe.Deduper
	recorder   diagnostics.Recorder
	tracer     trace.Tracer
	timeout    time.Duration
	now        func() time.Time

	wg sync.WaitGroup
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithDeduper drops events whose id was already forwarded.
func WithDeduper(d dedupe.Deduper) Option {
	return func(f *Forwarder) { f.deduper = d }
}

// WithRecorder sets where delivery outcomes are recorded.
func WithRecorder(r diagnostics.Recorder) Option {
	return func(f *Forwarder) { f.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Forwarder) { f.tracer = tp.Tracer(tracerName) }
}

// WithDispatchTimeout bounds each background delivery started by Dispatch.
func WithDispatchTimeout(d time.Duration) Option {
	return func(f *Forwarder) { f.timeout = d }
}

// NewForwarder creates a Forwarder.
func NewForwarder(sender Sender, normalizer *Normalizer, opts ...Option) *Forwarder {
	f := &Forwarder{
		sender:     sender,
		normalizer: normalizer,
		recorder:   diagnostics.LogRecorder{},
		tracer:     otel.Tracer(tracerName),
		timeout:    10 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Send forwards one event and returns the platform-assigned id.
//
// Only a missing event name is returned as an error. Transport and platform
// failures are logged and recorded, and Send returns ("", nil) so the caller's
// flow is never interrupted by telemetry.
func (f *Forwarder) Send(ctx context.Context, name string, rc RequestContext, userData map[string]any, eventID string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrMissingEventName
	}
	if eventID == "" {
		eventID = NewEventID()
	}

	ev := f.buildEvent(name, rc, userData, eventID)
	hasFbc := ev.ClickID != "" || userData[FieldClickID] != nil
	hasFbp := ev.PixelID != "" || userData[FieldPixelID] != nil
	hasIP := ev.IP != "" || userData[FieldClientIP] != nil

	ctx, span := f.tracer.Start(ctx, "capi.Send", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("capi.event_name", name),
			attribute.String("capi.event_id", eventID),
			attribute.Bool("capi.has_fbc", hasFbc),
			attribute.Bool("capi.has_fbp", hasFbp),
			attribute.Bool("capi.has_ip", hasIP),
		))
	defer span.End()

	delivery := diagnostics.Delivery{
		EventName:   name,
		EventID:     eventID,
		HasClickID:  hasFbc,
		HasPixelID:  hasFbp,
		HasClientIP: hasIP,
		At:          f.now(),
	}

	if f.deduper != nil {
		seen, err := f.deduper.Seen(ctx, eventID)
		if err != nil {
			logger.Warn("capi dedupe unavailable, forwarding anyway", "event", name, "err", err)
		} else if seen {
			logger.Info("capi event skipped, already forwarded", "event", name, "event_id", eventID)
			span.SetAttributes(attribute.Bool("capi.duplicate", true))
			delivery.Status = diagnostics.StatusDuplicate
			f.recorder.Record(ctx, delivery)
			return "", nil
		}
	}

	payload, err := f.normalizer.Normalize(ev)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	resp, err := f.sender.SendEvents(ctx, []*Payload{payload})
	delivery.Latency = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		logger.Error("capi event failed",
			"event", name, "event_id", eventID,
			"fbc", hasFbc, "fbp", hasFbp, "ip", hasIP, "err", err)
		if f.deduper != nil {
			if rerr := f.deduper.Release(context.WithoutCancel(ctx), eventID); rerr != nil {
				logger.Warn("capi dedupe release failed", "event_id", eventID, "err", rerr)
			}
		}
		delivery.Status = diagnostics.StatusFailed
		delivery.Error = err.Error()
		f.recorder.Record(ctx, delivery)
		return "", nil
	}

	platformID := resp.PlatformEventID()
	span.SetAttributes(attribute.String("capi.platform_event_id", platformID))
	logger.Info("capi event sent",
		"event", name, "event_id", eventID,
		"fbc", hasFbc, "fbp", hasFbp, "ip", hasIP,
		"events_received", resp.EventsReceived)

	delivery.Status = diagnostics.StatusSent
	delivery.PlatformEventID = platformID
	f.recorder.Record(ctx, delivery)
	return platformID, nil
}

// Dispatch sends an event in the background. The delivery gets its own
// timeout and is detached from the caller's context; panics and errors are
// logged, never propagated. Close waits for dispatched sends.
func (f *Forwarder) Dispatch(name string, rc RequestContext, userData map[string]any, eventID string) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("capi dispatch panic", "event", name, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		if _, err := f.Send(ctx, name, rc, userData, eventID); err != nil {
			logger.Error("capi dispatch rejected", "event", name, "err", err)
		}
	}()
}

// Close waits for in-flight dispatched sends, or until ctx is done.
func (f *Forwarder) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("capi: dispatched sends still in flight"), ctx.Err())
	}
}

// buildEvent resolves the request identity: the enrichment capability
// first, then the raw cookies, then the socket address.
func (f *Forwarder) buildEvent(name string, rc RequestContext, userData map[string]any, eventID string) Event {
	ev := Event{
		Name:      name,
		ID:        eventID,
		Time:      f.now(),
		SourceURL: rc.SourceURL,
		UserAgent: rc.UserAgent,
		UserData:  userData,
	}
	if rc.Attribution != nil {
		if v, ok := rc.Attribution.ClickID(); ok {
			ev.ClickID = v
		}
		if v, ok := rc.Attribution.PixelID(); ok {
			ev.PixelID = v
		}
		if v, ok := rc.Attribution.ClientIP(); ok {
			ev.IP = v
		}
	}
	if ev.ClickID == "" {
		ev.ClickID = rc.Cookies[attribution.CookieClickID]
	}
	if ev.PixelID == "" {
		ev.PixelID = rc.Cookies[attribution.CookiePixelID]
	}
	if ev.IP == "" && rc.RemoteAddr != "" {
		ev.IP = attribution.StripPort(rc.RemoteAddr)
	}
	return ev
}
