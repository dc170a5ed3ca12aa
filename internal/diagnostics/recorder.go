// Package diagnostics records the outcome of every Conversions API delivery
// attempt: which identifiers the event carried and whether the platform
// accepted it. No event payload or PII is ever stored.
package diagnostics

import (
	"context"
	"time"

	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

// Status is the outcome of one delivery attempt.
type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// Delivery describes one attempt to forward an event.
type Delivery struct {
	EventName       string
	EventID         string
	Status          Status
	PlatformEventID string
	HasClickID      bool
	HasPixelID      bool
	HasClientIP     bool
	Error           string
	Latency         time.Duration
	At              time.Time
}

// Recorder persists delivery outcomes. Implementations must not block the
// caller for long and must never fail the delivery they describe.
type Recorder interface {
	Record(ctx context.Context, d Delivery)
}

// LogRecorder writes deliveries to the structured log.
type LogRecorder struct{}

// Record implements Recorder.
func (LogRecorder) Record(_ context.Context, d Delivery) {
	fields := []interface{}{
		"event", d.EventName,
		"event_id", d.EventID,
		"status", string(d.Status),
		"fbc", d.HasClickID,
		"fbp", d.HasPixelID,
		"ip", d.HasClientIP,
		"latency_ms", d.Latency.Milliseconds(),
	}
	if d.PlatformEventID != "" {
		fields = append(fields, "platform_event_id", d.PlatformEventID)
	}
	if d.Error != "" {
		fields = append(fields, "err", d.Error)
		logger.Warn("capi delivery", fields...)
		return
	}
	logger.Debug("capi delivery", fields...)
}

// Multi fans a delivery out to several recorders.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, d Delivery) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, d)
		}
	}
}
