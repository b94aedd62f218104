package pingback

import (
	"net/http"
	"time"

	"github.com/dshills/pingback/internal/api"
	"github.com/dshills/pingback/internal/fingerprint"
	"github.com/dshills/pingback/internal/logging"
)

// DefaultBaseURL is the hosted Pingback service endpoint.
const DefaultBaseURL = "https://api.pingback.dev"

// Options configures a widget at Init time. Only WidgetID is required.
type Options struct {
	// WidgetID is the widget identifier to control. Required.
	WidgetID string

	// BaseURL is the service endpoint. Defaults to DefaultBaseURL.
	// A trailing slash is stripped.
	BaseURL string

	// Config is the initial runtime configuration.
	Config Config

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client

	// Logger overrides the SDK default logger.
	Logger *logging.Logger

	// FingerprintStore overrides the session store backing the anti-abuse
	// fingerprint. Defaults to a process-lifetime in-memory store.
	FingerprintStore fingerprint.Store

	// ConfigTimeout bounds the config fetch. Defaults to 10s.
	ConfigTimeout time.Duration

	// SubmitTimeout bounds feedback submission. Defaults to 15s.
	SubmitTimeout time.Duration
}

// Config is runtime configuration a host can change after Init, separate
// from the server-fetched WidgetConfig.
type Config struct {
	// Theme selects a presentation theme ("light", "dark", "auto").
	Theme string

	// Locale selects the display language (BCP 47 tag).
	Locale string

	// Page is the host page URL reported in submission metadata.
	// Go hosts have no document location, so this is supplied explicitly.
	Page string

	// Referrer is the referrer URL reported in submission metadata.
	Referrer string

	// UserAgent overrides the user agent reported in submission metadata.
	// Defaults to the SDK identification string.
	UserAgent string

	// Debug lowers the log level to debug for this widget.
	Debug bool
}

// merge overlays the non-zero fields of other onto c and returns the result.
func (c Config) merge(other Config) Config {
	if other.Theme != "" {
		c.Theme = other.Theme
	}
	if other.Locale != "" {
		c.Locale = other.Locale
	}
	if other.Page != "" {
		c.Page = other.Page
	}
	if other.Referrer != "" {
		c.Referrer = other.Referrer
	}
	if other.UserAgent != "" {
		c.UserAgent = other.UserAgent
	}
	if other.Debug {
		c.Debug = true
	}
	return c
}

// Support types re-exported so hosts outside this module can supply their
// own logger and fingerprint store.
type (
	// Logger is the SDK's leveled structured logger.
	Logger = logging.Logger

	// FingerprintStore persists the anti-abuse session fingerprint.
	FingerprintStore = fingerprint.Store
)

// NewFileFingerprintStore returns a store that persists the fingerprint
// under dir, giving CLI hosts a session that survives the process.
func NewFileFingerprintStore(dir string) (FingerprintStore, error) {
	return fingerprint.NewFileStore(dir)
}

// Server-declared widget types, re-exported from the API layer.
type (
	// WidgetConfig is the server-declared presentation data for a widget.
	WidgetConfig = api.WidgetConfig

	// CustomField declares one widget input beyond the message box.
	CustomField = api.CustomField

	// Theme holds the styling tokens for the default UI.
	Theme = api.Theme

	// Response is the service's answer to an accepted submission.
	Response = api.SubmitResponse

	// Submission is the assembled wire payload for one feedback
	// submission; it is published with the submit event.
	Submission = api.Submission
)

// Version reports the SDK version string.
func Version() string {
	return api.SDKVersion
}
