package pingback

import "github.com/dshills/pingback/internal/notify"

// State is an immutable point-in-time snapshot of widget state. Every
// mutation produces a new snapshot object, never an in-place edit, so
// reactive bindings can detect change by reference equality.
type State struct {
	// IsReady reports that initialization completed successfully.
	IsReady bool

	// IsOpen reports that the widget modal is open.
	IsOpen bool

	// IsVisible reports that the widget launcher is visible.
	IsVisible bool

	// IsSubmitting reports that a submission is in flight.
	IsSubmitting bool

	// Err holds the most recent initialization or submission failure,
	// or nil.
	Err error
}

// defaultState returns the snapshot a freshly constructed widget holds.
func defaultState() *State {
	return &State{IsVisible: true}
}

// Event and handler types for the widget lifecycle, re-exported from the
// notifier so consumers never import internal packages.
type (
	// Topic identifies a widget lifecycle event.
	Topic = notify.Topic

	// Event is delivered to every handler registered for its topic.
	Event = notify.Event

	// Handler processes a single event.
	Handler = notify.Handler
)

// Widget lifecycle topics.
const (
	// TopicReady fires once initialization completes successfully.
	// Payload: the fetched *WidgetConfig.
	TopicReady = notify.TopicReady

	// TopicOpen fires when the widget modal opens. Payload: nil.
	TopicOpen = notify.TopicOpen

	// TopicClose fires when the widget modal closes. Payload: nil.
	TopicClose = notify.TopicClose

	// TopicSubmit fires when a submission is accepted by the server.
	// Payload: the *Submission that was sent.
	TopicSubmit = notify.TopicSubmit

	// TopicError fires when initialization or submission fails.
	// Payload: the error.
	TopicError = notify.TopicError

	// TopicChange fires whenever the state snapshot is replaced.
	// Payload: the new *State.
	TopicChange = notify.TopicChange
)
