package notify

import (
	"reflect"
	"sync"
	"time"

	"github.com/dshills/pingback/internal/logging"
)

// Topic identifies a widget lifecycle event.
type Topic string

// Widget lifecycle topics.
const (
	// TopicReady fires once initialization completes successfully.
	TopicReady Topic = "ready"

	// TopicOpen fires when the widget modal opens.
	TopicOpen Topic = "open"

	// TopicClose fires when the widget modal closes.
	TopicClose Topic = "close"

	// TopicSubmit fires when a submission is accepted by the server.
	TopicSubmit Topic = "submit"

	// TopicError fires when initialization or submission fails.
	TopicError Topic = "error"

	// TopicChange fires whenever the state snapshot is replaced.
	TopicChange Topic = "change"
)

// Event is delivered to every handler registered for its topic.
// Events are immutable once created.
type Event struct {
	// Topic is the lifecycle event name.
	Topic Topic

	// Payload contains the event-specific data. May be nil.
	Payload any

	// Time is when the event was emitted.
	Time time.Time
}

// Handler processes a single event.
type Handler func(Event)

// entry pairs a handler with its identity and one-shot flag.
// Identity is the handler's code pointer, giving set semantics:
// registering the identical function value twice is a no-op.
type entry struct {
	key  uintptr
	fn   Handler
	once bool
}

// Notifier is a topic-keyed handler registry with synchronous,
// registration-ordered delivery.
type Notifier struct {
	mu       sync.Mutex
	handlers map[Topic][]entry
	logger   *logging.Logger
}

// New creates a notifier. A nil logger falls back to the SDK default.
func New(logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		handlers: make(map[Topic][]entry),
		logger:   logger.WithComponent("notify"),
	}
}

// On registers a handler for a topic. Registrations are retained in order;
// registering the same function value twice for the same topic is a no-op.
// A nil handler is ignored.
func (n *Notifier) On(topic Topic, fn Handler) {
	n.add(topic, fn, false)
}

// Once registers a handler that deregisters itself before its first
// invocation runs. A second Once registration of a different handler
// fires independently.
func (n *Notifier) Once(topic Topic, fn Handler) {
	n.add(topic, fn, true)
}

func (n *Notifier) add(topic Topic, fn Handler, once bool) {
	if fn == nil {
		return
	}
	key := handlerKey(fn)

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, e := range n.handlers[topic] {
		if e.key == key {
			return
		}
	}
	n.handlers[topic] = append(n.handlers[topic], entry{key: key, fn: fn, once: once})
}

// Off removes one handler for a topic, or every handler for the topic when
// fn is nil. Removing a handler that is not registered is a silent no-op.
func (n *Notifier) Off(topic Topic, fn Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if fn == nil {
		delete(n.handlers, topic)
		return
	}

	key := handlerKey(fn)
	entries := n.handlers[topic]
	for i, e := range entries {
		if e.key == key {
			n.handlers[topic] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(n.handlers[topic]) == 0 {
		delete(n.handlers, topic)
	}
}

// Emit synchronously invokes every handler currently registered for the
// topic, in registration order. One-shot handlers are deregistered before
// they run. A panicking handler is recovered and logged; remaining handlers
// still run. Emission is fire-and-forget: no error is returned.
func (n *Notifier) Emit(topic Topic, payload any) {
	event := Event{
		Topic:   topic,
		Payload: payload,
		Time:    time.Now(),
	}

	n.mu.Lock()
	entries := n.handlers[topic]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)

	// Deregister one-shot handlers before any of them run, so Off and
	// re-registration observe them as already removed.
	kept := entries[:0]
	for _, e := range entries {
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(n.handlers, topic)
	} else {
		n.handlers[topic] = kept
	}
	n.mu.Unlock()

	for _, e := range snapshot {
		n.invoke(e, event)
	}
}

// invoke runs one handler with panic isolation.
func (n *Notifier) invoke(e entry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("handler panic on topic %s: %v", event.Topic, r)
		}
	}()
	e.fn(event)
}

// Count returns the number of handlers registered for a topic.
func (n *Notifier) Count(topic Topic) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handlers[topic])
}

// RemoveAll clears every topic's handler set.
func (n *Notifier) RemoveAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = make(map[Topic][]entry)
}

// handlerKey returns the code pointer identity of a handler function.
func handlerKey(fn Handler) uintptr {
	return reflect.ValueOf(fn).Pointer()
}
