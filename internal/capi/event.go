package capi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionSource is reported for every event: all conversions happen on the site.
const ActionSource = "website"

// Event is one logical user action on its way to the platform.
type Event struct {
	Name string
	// ID is the cross-channel deduplication key: the browser pixel and the
	// server send the same value so the platform merges the two deliveries.
	ID        string
	Time      time.Time
	SourceURL string
	UserAgent string
	IP        string
	ClickID   string
	PixelID   string
	UserData  map[string]any
}

// NewEventID returns a fresh, time-ordered, collision-resistant event id.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Payload is one entry of the Conversions API "data" array.
type Payload struct {
	EventName      string
	EventTime      int64
	ActionSource   string
	EventSourceURL string
	EventID        string
	UserData       map[string]any
	CustomData     map[string]any
	// Root holds root-level fields (opt_out, attribution_data, ...) that are
	// serialized as siblings of event_name.
	Root map[string]any
}

// MarshalJSON flattens Root next to the fixed event fields and omits
// custom_data when it is empty.
func (p *Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Root)+7)
	for k, v := range p.Root {
		out[k] = v
	}
	out["event_name"] = p.EventName
	out["event_time"] = p.EventTime
	out["action_source"] = p.ActionSource
	if p.EventSourceURL != "" {
		out["event_source_url"] = p.EventSourceURL
	}
	if p.EventID != "" {
		out["event_id"] = p.EventID
	}
	userData := p.UserData
	if userData == nil {
		userData = map[string]any{}
	}
	out["user_data"] = userData
	if len(p.CustomData) > 0 {
		out["custom_data"] = p.CustomData
	}
	return json.Marshal(out)
}
