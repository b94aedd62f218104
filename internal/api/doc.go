// Package api owns all network communication with the Pingback service:
// widget config retrieval (cached, coalesced), feedback submission
// (token-gated, with a single refresh-and-retry on token rejection), and
// error normalization.
//
// # Caching and Coalescing
//
// Config responses are cached per widget identifier with a fixed TTL.
// Concurrent fetches for the same identifier share one in-flight request:
// at most one GET per widget is outstanding at any instant. Submissions
// are never cached or coalesced; duplicate-submission detection belongs
// to the server.
//
// # Submission Tokens
//
// The service issues a short-lived submission token alongside each config
// response. The client holds at most one token and treats it as usable only
// while now < expiry - 30s, avoiding races with server-side expiry. When a
// submission is rejected with HTTP 403 because the token expired, the client
// refreshes config once to obtain a new token and retries the POST exactly
// once. That is the only automatic retry in the SDK.
//
// # Errors
//
// Failures are normalized into the types in errors.go: ValidationError
// before any network call, NetworkError for transport failures,
// ServerError for non-2xx responses, RateLimitError for HTTP 429, and
// BlockedError when a 2xx response soft-rejects the submission.
package api
