// Package pingback is the Go SDK for the hosted Pingback feedback-widget
// service. It implements the widget state/API core: a per-widget singleton
// controller, a cached and coalesced config client with an anti-abuse token
// lifecycle, and a publish/subscribe state store that UI bindings consume.
//
// # Basic Usage
//
//	widget, err := pingback.Init(pingback.Options{
//	    WidgetID: "wgt_docs",
//	    BaseURL:  "https://api.pingback.example",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer widget.Destroy()
//
//	if err := widget.WaitUntilReady(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	_, err = widget.Submit(ctx, pingback.Feedback{
//	    Message:   "love the new dashboard",
//	    Sentiment: pingback.SentimentPositive,
//	})
//
// # Instances
//
// Init enforces one controller per widget identifier: a second Init for the
// same identifier returns the existing instance unchanged. Destroy removes
// the instance from the registry and frees the identifier for a fresh Init.
//
// # State
//
// Every controller exposes a stable subscribe/snapshot pair for reactive
// bindings: GetSnapshot returns the same *State pointer until a mutation
// replaces it, so bindings can detect change by reference equality, and
// Subscribe registers a callback invoked after every mutation. Lifecycle
// events (ready, open, close, submit, error, change) are also published
// through On, Once, and Off.
package pingback
