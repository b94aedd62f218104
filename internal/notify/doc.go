// Package notify provides the widget lifecycle event notifier.
//
// The notifier decouples producers of lifecycle events (ready, open, close,
// submit, error, change) from consumers. Consumers register handlers by
// topic; emission is synchronous, in registration order, and fire-and-forget.
// A handler that panics is recovered and logged so one misbehaving consumer
// cannot break the others.
//
// # Topics
//
// Topics form a closed set declared in this package:
//
//	notify.TopicReady   - initialization completed
//	notify.TopicOpen    - widget modal opened
//	notify.TopicClose   - widget modal closed
//	notify.TopicSubmit  - feedback accepted by the server
//	notify.TopicError   - initialization or submission failed
//	notify.TopicChange  - state snapshot replaced
//
// # Basic Usage
//
//	n := notify.New(logger)
//	n.On(notify.TopicReady, func(e notify.Event) {
//	    fmt.Println("widget ready")
//	})
//	n.Emit(notify.TopicReady, nil)
//
// # Thread Safety
//
// The Notifier is safe for concurrent use. Handlers may register or remove
// subscriptions from within a handler; changes take effect on the next Emit.
package notify
