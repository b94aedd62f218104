package pingback

import "sync"

// instances is the process-wide registry mapping widget identifiers to
// their controllers. One controller per identifier: duplicates would
// double-fetch config and duplicate UI artifacts.
var (
	instancesMu sync.Mutex
	instances   = make(map[string]*Widget)
)

// Init returns the controller for a widget identifier, creating and
// registering one on first call. A second Init for the same identifier
// returns the existing instance unchanged; its options are ignored and
// initialization is not restarted.
//
// Initialization (fingerprint, config fetch) runs asynchronously and never
// fails Init itself; use WaitUntilReady or the ready/error events to
// observe the outcome.
func Init(opts Options) (*Widget, error) {
	if opts.WidgetID == "" {
		return nil, &ValidationError{Field: "widgetId", Reason: "must not be empty"}
	}

	instancesMu.Lock()
	if w, ok := instances[opts.WidgetID]; ok {
		instancesMu.Unlock()
		return w, nil
	}
	w := newWidget(opts)
	instances[opts.WidgetID] = w
	instancesMu.Unlock()

	go w.initialize()
	return w, nil
}

// GetInstance returns the registered controller for a widget identifier.
// Lookup only, no side effects.
func GetInstance(widgetID string) (*Widget, bool) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	w, ok := instances[widgetID]
	return w, ok
}

// unregister removes a widget from the registry. The identity check keeps
// a stale Destroy from evicting a successor registered for the same id.
func unregister(widgetID string, w *Widget) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	if instances[widgetID] == w {
		delete(instances, widgetID)
	}
}
