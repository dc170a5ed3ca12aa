package client

// analyticsNames maps Conversions API event names to the web-analytics
// taxonomy.
var analyticsNames = map[string]string{
	"PageView":             "page_view",
	"Lead":                 "generate_lead",
	"Contact":              "contact",
	"ViewContent":          "view_item",
	"InitiateCheckout":     "begin_checkout",
	"CompleteRegistration": "sign_up",
	"Schedule":             "schedule",
	"Purchase":             "purchase",
	"Search":               "search",
	"AddToCart":            "add_to_cart",
	"Subscribe":            "subscribe",
}

// AnalyticsEventName returns the analytics name for a Conversions API
// event. Unknown names are passed through unchanged.
func AnalyticsEventName(metaName string) string {
	if name, ok := analyticsNames[metaName]; ok {
		return name
	}
	return metaName
}

// Analytics is a secondary analytics integration.
type Analytics interface {
	Event(name string, params map[string]any) error
}

// Pixel is the browser pixel channel. It receives the same event id as the
// server channel so the platform can merge the two deliveries.
type Pixel interface {
	Track(name string, userData map[string]any, eventID string) error
}
