package capi

import "fmt"

// Bucket is where a user-data key ends up in the outgoing payload.
type Bucket int

const (
	// BucketCustom keys are nested under custom_data.
	BucketCustom Bucket = iota
	// BucketPII keys are hashed and array-wrapped under user_data.
	BucketPII
	// BucketMetadata keys are copied as scalars under user_data.
	BucketMetadata
	// BucketRoot keys become siblings of event_name.
	BucketRoot
)

func (b Bucket) String() string {
	switch b {
	case BucketPII:
		return "pii"
	case BucketMetadata:
		return "metadata"
	case BucketRoot:
		return "root"
	default:
		return "custom"
	}
}

// PII keys understood by the platform.
const (
	FieldEmail      = "em"
	FieldPhone      = "ph"
	FieldFirstName  = "fn"
	FieldLastName   = "ln"
	FieldGender     = "ge"
	FieldBirthdate  = "db"
	FieldCity       = "ct"
	FieldState      = "st"
	FieldZip        = "zp"
	FieldCountry    = "country"
	FieldExternalID = "external_id"
)

// Identity keys filled from the request context.
const (
	FieldClickID   = "fbc"
	FieldPixelID   = "fbp"
	FieldClientIP  = "client_ip_address"
	FieldUserAgent = "client_user_agent"
)

// Taxonomy is the static field classification handed to a Normalizer.
// Keys not listed in any set are custom data.
type Taxonomy struct {
	PII      []string
	Metadata []string
	Root     []string

	index map[string]Bucket
}

// DefaultTaxonomy returns the platform's current user_data / server event schema.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		PII: []string{
			FieldEmail, FieldPhone, FieldFirstName, FieldLastName, FieldGender, FieldBirthdate,
			FieldCity, FieldState, FieldZip, FieldCountry, FieldExternalID,
		},
		Metadata: []string{
			FieldClickID, FieldPixelID, FieldClientIP, FieldUserAgent,
			"subscription_id", "fb_login_id", "lead_id", "madid", "page_id",
			"page_scoped_user_id", "ctwa_clid", "ig_account_id", "ig_sid",
		},
		Root: []string{
			"attribution_data", "original_event_data", "opt_out",
			"data_processing_options", "data_processing_options_country",
			"data_processing_options_state", "referrer_url", "customer_segmentation",
		},
	}
}

// Compile validates that the three sets are disjoint and builds the lookup
// index. A Taxonomy must be compiled before Classify is called.
func (t Taxonomy) Compile() (Taxonomy, error) {
	index := make(map[string]Bucket, len(t.PII)+len(t.Metadata)+len(t.Root))
	add := func(keys []string, b Bucket) error {
		for _, k := range keys {
			if prev, dup := index[k]; dup {
				return fmt.Errorf("capi: key %q listed as both %s and %s", k, prev, b)
			}
			index[k] = b
		}
		return nil
	}
	if err := add(t.PII, BucketPII); err != nil {
		return t, err
	}
	if err := add(t.Metadata, BucketMetadata); err != nil {
		return t, err
	}
	if err := add(t.Root, BucketRoot); err != nil {
		return t, err
	}
	t.index = index
	return t, nil
}

// Classify returns the bucket for key.
func (t Taxonomy) Classify(key string) Bucket {
	if b, ok := t.index[key]; ok {
		return b
	}
	return BucketCustom
}
