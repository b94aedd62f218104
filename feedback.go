package pingback

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/pingback/internal/api"
)

// Sentiment values accepted on a submission.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Validation limits applied before any network activity.
const (
	MaxMessageLength       = 10000
	MaxMetadataValueLength = 1000
)

// Feedback is the caller-facing submission input. Message is required;
// everything else is optional.
type Feedback struct {
	Message           string
	Sentiment         string
	Metadata          map[string]string
	CustomFieldValues map[string]string
}

// validSentiment reports whether s is one of the accepted sentiment values.
func validSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// buildSubmission validates fb and assembles the wire payload: trimmed
// message, sentiment, merged metadata with environment defaults, and the
// user block from Identify/SetData. Environment defaults never overwrite
// caller-supplied metadata keys.
func (w *Widget) buildSubmission(fb Feedback) (*api.Submission, error) {
	message := strings.TrimSpace(fb.Message)
	if message == "" {
		return nil, ErrMessageRequired
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if fb.Sentiment != "" && !validSentiment(fb.Sentiment) {
		return nil, ErrInvalidSentiment
	}
	for _, v := range fb.Metadata {
		if utf8.RuneCountInString(v) > MaxMetadataValueLength {
			return nil, ErrMetadataValueTooLong
		}
	}

	w.mu.Lock()
	cfg := w.config
	userID := w.userID
	traits := make(map[string]any, len(w.traits))
	for k, v := range w.traits {
		traits[k] = v
	}
	data := make(map[string]any, len(w.data))
	for k, v := range w.data {
		data[k] = v
	}
	w.mu.Unlock()

	metadata := make(map[string]string, len(fb.Metadata)+3)
	if cfg.Page != "" {
		metadata["page"] = cfg.Page
	}
	if cfg.Referrer != "" {
		metadata["referrer"] = cfg.Referrer
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = api.UserAgent()
	}
	metadata["userAgent"] = ua
	for k, v := range fb.Metadata {
		metadata[k] = v
	}

	sub := &api.Submission{
		Message:           message,
		Sentiment:         fb.Sentiment,
		Metadata:          metadata,
		CustomFieldValues: fb.CustomFieldValues,
		User:              buildUserBlock(userID, traits, data),
	}
	return sub, nil
}

// buildUserBlock shapes the identity payload. The email and name keys are
// promoted to the top level, with SetData values winning over Identify
// traits; whatever remains stays nested under "traits" and "data".
func buildUserBlock(userID string, traits, data map[string]any) map[string]any {
	if userID == "" && len(traits) == 0 && len(data) == 0 {
		return nil
	}

	user := make(map[string]any)
	if userID != "" {
		user["user_id"] = userID
	}

	for _, key := range []string{"email", "name"} {
		if v, ok := traits[key]; ok {
			user[key] = v
			delete(traits, key)
		}
		if v, ok := data[key]; ok {
			user[key] = v
			delete(data, key)
		}
	}

	if len(traits) > 0 {
		user["traits"] = traits
	}
	if len(data) > 0 {
		user["data"] = data
	}
	return user
}
