package pingback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dshills/pingback/internal/api"
	"github.com/dshills/pingback/internal/fingerprint"
	"github.com/dshills/pingback/internal/logging"
	"github.com/dshills/pingback/internal/notify"
)

// Widget is the per-identifier feedback widget controller. It composes the
// API client and the event notifier and exposes the full surface bindings
// are written against: lifecycle, state subscription, identity, submission.
//
// All methods are safe for concurrent use, and every method is safe to call
// after Destroy: post-destroy calls do no meaningful work and never panic.
type Widget struct {
	widgetID     string
	client       *api.Client
	notifier     *notify.Notifier
	fingerprints *fingerprint.Provider
	logger       *logging.Logger

	mu          sync.Mutex
	state       *State
	config      Config
	remote      *WidgetConfig
	userID      string
	traits      map[string]any
	data        map[string]any
	subscribers map[uint64]func()
	nextSubID   uint64

	readyCh   chan struct{}
	readyOnce sync.Once
	destroyed atomic.Bool
}

// newWidget constructs an unregistered, uninitialized controller.
func newWidget(opts Options) *Widget {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithWidget(opts.WidgetID)
	if opts.Config.Debug {
		logger.SetLevel(logging.LevelDebug)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	clientOpts := []api.Option{api.WithLogger(logger)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	if opts.ConfigTimeout > 0 || opts.SubmitTimeout > 0 {
		clientOpts = append(clientOpts, api.WithTimeouts(opts.ConfigTimeout, opts.SubmitTimeout))
	}

	return &Widget{
		widgetID:     opts.WidgetID,
		client:       api.NewClient(baseURL, clientOpts...),
		notifier:     notify.New(logger),
		fingerprints: fingerprint.NewProvider(opts.FingerprintStore),
		logger:       logger,
		state:        defaultState(),
		config:       opts.Config,
		traits:       make(map[string]any),
		data:         make(map[string]any),
		subscribers:  make(map[uint64]func()),
		readyCh:      make(chan struct{}),
	}
}

// initialize runs the asynchronous startup sequence: fingerprint, config
// fetch, then the ready or error transition. Completions arriving after
// Destroy are silent no-ops.
func (w *Widget) initialize() {
	fp, err := w.fingerprints.Generate()
	if err != nil {
		// The fingerprint is optional on the wire; requests proceed
		// without the header rather than blocking initialization.
		w.logger.Warn("fingerprint unavailable: %v", err)
	} else {
		w.client.SetFingerprint(fp)
	}

	config, err := w.client.FetchConfig(context.Background(), w.widgetID)
	if w.destroyed.Load() {
		return
	}
	if err != nil {
		w.logger.Error("initialization failed: %v", err)
		if w.mutate(func(s *State) bool {
			s.Err = err
			return true
		}) {
			w.notifier.Emit(notify.TopicError, err)
		}
		w.signalReady()
		return
	}

	// The remote config is recorded inside the mutation so the same
	// destroyed re-check covers it.
	committed := w.mutate(func(s *State) bool {
		w.remote = config
		s.IsReady = true
		s.Err = nil
		return true
	})
	if !committed {
		return
	}
	w.logger.Debug("widget ready")
	w.notifier.Emit(notify.TopicReady, config)
	w.signalReady()
}

// signalReady releases WaitUntilReady waiters exactly once.
func (w *Widget) signalReady() {
	w.readyOnce.Do(func() { close(w.readyCh) })
}

// WidgetID returns the identifier this controller manages.
func (w *Widget) WidgetID() string {
	return w.widgetID
}

// WaitUntilReady blocks until initialization completes. It returns nil
// immediately if the widget is already ready, the recorded error if
// initialization already failed, ErrDestroyed if the widget is destroyed
// before becoming ready, or the context error on cancellation.
func (w *Widget) WaitUntilReady(ctx context.Context) error {
	w.mu.Lock()
	st := w.state
	ch := w.readyCh
	w.mu.Unlock()

	if st.IsReady {
		return nil
	}
	if st.Err != nil {
		return st.Err
	}

	select {
	case <-ch:
		s := w.GetSnapshot()
		switch {
		case s.IsReady:
			return nil
		case s.Err != nil:
			return s.Err
		default:
			return ErrDestroyed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSnapshot returns the current state snapshot. The same pointer is
// returned until the next mutation replaces it.
func (w *Widget) GetSnapshot() *State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers a callback invoked after every state mutation and
// returns the function that removes it. Together with GetSnapshot this is
// the stable subscribe/snapshot pair reactive bindings expect.
func (w *Widget) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	w.mu.Lock()
	id := w.nextSubID
	w.nextSubID++
	w.subscribers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subscribers, id)
		w.mu.Unlock()
	}
}

// mutate applies fn to a copy of the current snapshot. When fn reports a
// change, the copy becomes the new snapshot and subscribers plus the
// change topic are notified. Returns whether a change was committed.
// The destroyed flag is re-checked under the lock so a Destroy landing
// after a caller's own check still wins: nothing mutates a destroyed
// widget's state.
func (w *Widget) mutate(fn func(s *State) bool) bool {
	w.mu.Lock()
	if w.destroyed.Load() {
		w.mu.Unlock()
		return false
	}
	next := *w.state
	if !fn(&next) {
		w.mu.Unlock()
		return false
	}
	w.state = &next
	subs := make([]func(), 0, len(w.subscribers))
	for _, sub := range w.subscribers {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		sub()
	}
	w.notifier.Emit(notify.TopicChange, &next)
	return true
}

// Open opens the widget modal. A no-op with a debug log when the widget is
// not ready; a silent no-op when already open.
func (w *Widget) Open() {
	if w.destroyed.Load() {
		return
	}
	if !w.GetSnapshot().IsReady {
		w.logger.Debug("open ignored: widget not ready")
		return
	}
	changed := w.mutate(func(s *State) bool {
		if s.IsOpen {
			return false
		}
		s.IsOpen = true
		return true
	})
	if changed {
		w.notifier.Emit(notify.TopicOpen, nil)
	}
}

// Close closes the widget modal. Safe regardless of readiness.
func (w *Widget) Close() {
	if w.destroyed.Load() {
		return
	}
	changed := w.mutate(func(s *State) bool {
		if !s.IsOpen {
			return false
		}
		s.IsOpen = false
		return true
	})
	if changed {
		w.notifier.Emit(notify.TopicClose, nil)
	}
}

// Toggle opens the modal when closed and closes it when open.
func (w *Widget) Toggle() {
	if w.GetSnapshot().IsOpen {
		w.Close()
	} else {
		w.Open()
	}
}

// Show makes the widget launcher visible. Always permitted.
func (w *Widget) Show() {
	if w.destroyed.Load() {
		return
	}
	w.mutate(func(s *State) bool {
		if s.IsVisible {
			return false
		}
		s.IsVisible = true
		return true
	})
}

// Hide hides the widget launcher. Always permitted.
func (w *Widget) Hide() {
	if w.destroyed.Load() {
		return
	}
	w.mutate(func(s *State) bool {
		if !s.IsVisible {
			return false
		}
		s.IsVisible = false
		return true
	})
}

// Identify sets the stored user identifier and merges traits into the
// stored trait bag. Traits accumulate across calls; they are not replaced.
func (w *Widget) Identify(userID string, traits map[string]any) {
	if w.destroyed.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userID = userID
	for k, v := range traits {
		w.traits[k] = v
	}
}

// SetData merges key-value pairs into the stored data bag.
func (w *Widget) SetData(data map[string]any) {
	if w.destroyed.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range data {
		w.data[k] = v
	}
}

// Reset clears the user identifier, data bag, and trait bag.
func (w *Widget) Reset() {
	if w.destroyed.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userID = ""
	w.traits = make(map[string]any)
	w.data = make(map[string]any)
}

// On registers a handler for a lifecycle topic.
func (w *Widget) On(topic Topic, fn Handler) {
	w.notifier.On(topic, fn)
}

// Once registers a handler that fires at most once.
func (w *Widget) Once(topic Topic, fn Handler) {
	w.notifier.Once(topic, fn)
}

// Off removes one handler for a topic, or all handlers when fn is nil.
func (w *Widget) Off(topic Topic, fn Handler) {
	w.notifier.Off(topic, fn)
}

// SetConfig overlays the non-zero fields of partial onto the runtime
// configuration. Separate from the server-fetched WidgetConfig.
func (w *Widget) SetConfig(partial Config) {
	if w.destroyed.Load() {
		return
	}
	w.mu.Lock()
	w.config = w.config.merge(partial)
	debug := w.config.Debug
	w.mu.Unlock()
	if debug {
		w.logger.SetLevel(logging.LevelDebug)
	}
}

// GetConfig returns a copy of the runtime configuration.
func (w *Widget) GetConfig() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

// RemoteConfig returns the server-declared widget config, or nil before
// the widget is ready.
func (w *Widget) RemoteConfig() *WidgetConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remote
}

// Submit validates and sends one feedback submission. It returns
// ErrNotReady before initialization completes, a validation sentinel for
// bad input, and otherwise whatever the API layer reports. The submitting
// flag is set for the duration of the request and always cleared.
func (w *Widget) Submit(ctx context.Context, fb Feedback) (*Response, error) {
	if w.destroyed.Load() || !w.GetSnapshot().IsReady {
		return nil, ErrNotReady
	}

	sub, err := w.buildSubmission(fb)
	if err != nil {
		return nil, err
	}

	w.mutate(func(s *State) bool {
		s.IsSubmitting = true
		return true
	})

	resp, err := w.client.SubmitFeedback(ctx, w.widgetID, *sub)

	if w.destroyed.Load() {
		// Destroyed mid-flight: hand the caller its result but mutate no
		// state and emit no events.
		return resp, err
	}

	if err != nil {
		if w.mutate(func(s *State) bool {
			s.IsSubmitting = false
			s.Err = err
			return true
		}) {
			w.notifier.Emit(notify.TopicError, err)
		}
		return nil, err
	}

	if w.mutate(func(s *State) bool {
		s.IsSubmitting = false
		s.Err = nil
		return true
	}) {
		w.notifier.Emit(notify.TopicSubmit, sub)
	}
	return resp, nil
}

// Destroy removes the widget from the registry, clears all event handlers
// and state subscribers, drops the API client's cache and token, and
// resets internal state. Safe to call multiple times; the identifier is
// immediately available for a fresh Init.
func (w *Widget) Destroy() {
	if !w.destroyed.CompareAndSwap(false, true) {
		return
	}

	unregister(w.widgetID, w)
	w.notifier.RemoveAll()
	w.client.ClearCache()

	w.mu.Lock()
	w.state = defaultState()
	w.remote = nil
	w.userID = ""
	w.traits = make(map[string]any)
	w.data = make(map[string]any)
	w.subscribers = make(map[uint64]func())
	w.mu.Unlock()

	w.signalReady()
	w.logger.Debug("widget destroyed")
}
