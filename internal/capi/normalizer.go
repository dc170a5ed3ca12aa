package capi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingEventName is returned when an event has no name.
var ErrMissingEventName = errors.New("capi: event name is required")

// Enricher is the attribution capability resolved for a request. Each
// method reports false when the identifier could not be derived.
type Enricher interface {
	ClickID() (string, bool)
	PixelID() (string, bool)
	ClientIP() (string, bool)
}

// PIINormalizer applies field-aware normalization before hashing. field is
// a PII key such as "em" or "ph".
type PIINormalizer interface {
	NormalizeAndHash(field, value string) (string, error)
}

// Normalizer turns an Event into a platform-ready Payload.
type Normalizer struct {
	taxonomy Taxonomy
	pii      PIINormalizer
	now      func() time.Time
}

// NewNormalizer compiles taxonomy and returns a Normalizer. pii may be nil,
// in which case every PII value takes the local trim+lowercase hash path.
func NewNormalizer(taxonomy Taxonomy, pii PIINormalizer) (*Normalizer, error) {
	compiled, err := taxonomy.Compile()
	if err != nil {
		return nil, err
	}
	return &Normalizer{taxonomy: compiled, pii: pii, now: time.Now}, nil
}

// Normalize classifies ev.UserData and assembles the payload.
//
// Root-level keys are lifted out first, PII values are then hashed (values
// that already are digests are kept), the remaining keys are routed to
// user_data or custom_data, and finally the request identity fills the
// identity fields of user_data. Server-derived identity wins over identity
// keys supplied by the caller, which only fill gaps.
func (n *Normalizer) Normalize(ev Event) (*Payload, error) {
	if strings.TrimSpace(ev.Name) == "" {
		return nil, ErrMissingEventName
	}

	working := make(map[string]any, len(ev.UserData))
	for k, v := range ev.UserData {
		if v != nil {
			working[k] = v
		}
	}

	root := make(map[string]any)
	for k, v := range working {
		if n.taxonomy.Classify(k) == BucketRoot {
			root[k] = v
			delete(working, k)
		}
	}

	for k, v := range working {
		if n.taxonomy.Classify(k) != BucketPII {
			continue
		}
		if hashed := n.hashPII(k, v); len(hashed) > 0 {
			working[k] = hashed
		} else {
			delete(working, k)
		}
	}

	userData := make(map[string]any)
	custom := make(map[string]any)
	for k, v := range working {
		switch n.taxonomy.Classify(k) {
		case BucketPII, BucketMetadata:
			userData[k] = v
		default:
			custom[k] = v
		}
	}

	setIdentity(userData, FieldClientIP, ev.IP)
	setIdentity(userData, FieldUserAgent, ev.UserAgent)
	setIdentity(userData, FieldClickID, ev.ClickID)
	setIdentity(userData, FieldPixelID, ev.PixelID)

	t := ev.Time
	if t.IsZero() {
		t = n.now()
	}

	p := &Payload{
		EventName:      ev.Name,
		EventTime:      t.Unix(),
		ActionSource:   ActionSource,
		EventSourceURL: ev.SourceURL,
		EventID:        ev.ID,
		UserData:       userData,
		Root:           root,
	}
	if len(custom) > 0 {
		p.CustomData = custom
	}
	return p, nil
}

func setIdentity(userData map[string]any, key, value string) {
	if value != "" {
		userData[key] = value
	}
}

// scalarString renders a decoded JSON scalar as its plain text form. Numbers
// never use exponent notation, so 5215512345678 hashes as written.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// hashPII returns the hashed values for one PII field, always as a slice.
// Blank values are dropped.
func (n *Normalizer) hashPII(field string, value any) []any {
	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case []string:
		raw = make([]any, len(v))
		for i, s := range v {
			raw[i] = s
		}
	default:
		raw = []any{v}
	}

	out := make([]any, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		if h, ok := n.hashValue(field, scalarString(item)); ok {
			out = append(out, h)
		}
	}
	return out
}

func (n *Normalizer) hashValue(field, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if IsHashed(value) {
		return value, true
	}
	if n.pii != nil {
		if h, err := n.pii.NormalizeAndHash(field, value); err == nil && h != "" {
			return h, true
		}
	}
	return Hash(value)
}
