package api

// WidgetConfig is the server-declared presentation data for one widget.
// It is immutable once fetched and replaced wholesale on refresh.
type WidgetConfig struct {
	// WidgetID is the server-side widget identifier.
	WidgetID string `json:"widget_id"`

	// Name is the widget's display name.
	Name string `json:"name,omitempty"`

	// Labels holds display strings keyed by slot (title, placeholder,
	// thanks, button, ...). Unknown slots are preserved as-is.
	Labels map[string]string `json:"labels,omitempty"`

	// CustomFields declares the extra inputs the widget renders.
	CustomFields []CustomField `json:"custom_fields,omitempty"`

	// Theme holds the styling tokens for the default UI.
	Theme Theme `json:"theme,omitempty"`

	// SentimentEnabled reports whether the widget shows the sentiment picker.
	SentimentEnabled bool `json:"sentiment_enabled,omitempty"`
}

// CustomField declares one widget input beyond the message box.
type CustomField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Theme holds the styling tokens the default UI consumes.
type Theme struct {
	PrimaryColor string `json:"primary_color,omitempty"`
	Background   string `json:"background,omitempty"`
	TextColor    string `json:"text_color,omitempty"`
	Position     string `json:"position,omitempty"`
	BorderRadius string `json:"border_radius,omitempty"`
}

// configEnvelope is the raw config endpoint response: the widget config
// plus the optional submission token fields the client strips and keeps
// for itself. The token never leaves this package.
type configEnvelope struct {
	WidgetConfig

	SubmissionToken string `json:"submission_token,omitempty"`
	TokenExpiresAt  int64  `json:"token_expires_at,omitempty"`
}

// Submission is one feedback payload, constructed fresh per submit call
// and never persisted beyond the network request.
type Submission struct {
	// Message is the feedback text. Required.
	Message string `json:"message"`

	// Sentiment is the optional sentiment tag.
	Sentiment string `json:"sentiment,omitempty"`

	// Metadata carries page URL, referrer, user agent and any
	// caller-supplied context, all values pre-merged by the caller.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CustomFieldValues maps declared custom field keys to values.
	CustomFieldValues map[string]string `json:"customFieldValues,omitempty"`

	// User is the optional accumulated identity block.
	User map[string]any `json:"user,omitempty"`
}

// SubmitResponse is the feedback endpoint's success payload.
type SubmitResponse struct {
	// ID is the server-assigned feedback identifier.
	ID string `json:"id,omitempty"`

	// Status is the server's disposition string.
	Status string `json:"status,omitempty"`

	// Blocked reports an accept-but-reject soft block. The client turns
	// this into a BlockedError before the response reaches callers.
	Blocked bool `json:"blocked,omitempty"`

	// Message carries the server's block explanation when Blocked is set.
	Message string `json:"message,omitempty"`
}
