package pingback

import (
	"errors"

	"github.com/dshills/pingback/internal/api"
)

// Sentinel errors for widget operations.
var (
	// ErrNotReady is returned when an operation that requires a completed
	// initialization runs before the widget is ready.
	ErrNotReady = errors.New("widget is not ready")

	// ErrDestroyed is returned by WaitUntilReady when the widget was
	// destroyed before initialization finished.
	ErrDestroyed = errors.New("widget was destroyed")

	// ErrMessageRequired is returned when the feedback message is empty
	// or whitespace-only after trimming.
	ErrMessageRequired = errors.New("message is required")

	// ErrMessageTooLong is returned when the feedback message exceeds
	// MaxMessageLength characters.
	ErrMessageTooLong = errors.New("message exceeds maximum length")

	// ErrInvalidSentiment is returned when the sentiment is not one of
	// the allowed values.
	ErrInvalidSentiment = errors.New("invalid sentiment")

	// ErrMetadataValueTooLong is returned when a metadata field value
	// exceeds MaxMetadataValueLength characters.
	ErrMetadataValueTooLong = errors.New("metadata value exceeds maximum length")

	// ErrNoToken is returned when a submission cannot proceed because the
	// service issued no submission token. Surfaced inside a ServerError
	// with status 403.
	ErrNoToken = api.ErrNoToken
)

// Error types normalized by the API layer, re-exported so callers can use
// errors.As without reaching into internal packages.
type (
	// ValidationError reports input rejected before any network call.
	ValidationError = api.ValidationError

	// NetworkError reports a transport-level failure.
	NetworkError = api.NetworkError

	// ServerError reports a non-2xx response with the server's message.
	ServerError = api.ServerError

	// RateLimitError reports HTTP 429 with the wait the server asked for.
	RateLimitError = api.RateLimitError

	// BlockedError reports an HTTP-successful response whose payload
	// marks the submission as rejected.
	BlockedError = api.BlockedError
)
