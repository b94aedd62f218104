// Package fingerprint produces the opaque per-session client identifier
// attached to API requests for abuse mitigation. The value is 16 random
// bytes rendered as 32 hex characters, carries no identifying information,
// and is reused for the lifetime of the session store.
package fingerprint

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Length is the canonical fingerprint length in hex characters.
const Length = 32

// storeKey is the slot the fingerprint occupies in the session store.
const storeKey = "pingback.fingerprint"

// ErrRandUnavailable is returned when the cryptographic random source
// fails. There is no weak fallback: the anti-abuse value of the
// fingerprint depends on unpredictability.
var ErrRandUnavailable = errors.New("cryptographic random source unavailable")

// Store is a session-scoped slot for the fingerprint value. Implementations
// decide the session boundary: the default MemStore lives for the process,
// a browser-embedded host would use its session storage, a CLI host a file.
type Store interface {
	// Get returns the stored value and whether one exists.
	Get(key string) (string, bool)

	// Set stores a value.
	Set(key, value string)

	// Delete removes a value.
	Delete(key string)
}

// Provider generates and caches the session fingerprint.
type Provider struct {
	mu    sync.Mutex
	store Store
}

// NewProvider creates a provider over the given store.
// A nil store defaults to a process-lifetime MemStore.
func NewProvider(store Store) *Provider {
	if store == nil {
		store = NewMemStore()
	}
	return &Provider{store: store}
}

// Generate returns the session fingerprint, creating and persisting one if
// no prior value exists. A previously-stored value in the legacy separator
// format is normalized to 32 hex characters and re-persisted.
func (p *Provider) Generate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stored, ok := p.store.Get(storeKey); ok {
		if isCanonical(stored) {
			return stored, nil
		}
		if normalized, ok := normalizeLegacy(stored); ok {
			p.store.Set(storeKey, normalized)
			return normalized, nil
		}
		// Unrecognizable value: fall through and mint a fresh one.
	}

	value, err := random()
	if err != nil {
		return "", err
	}
	p.store.Set(storeKey, value)
	return value, nil
}

// Clear discards the stored value so the next Generate produces a new one.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Delete(storeKey)
}

// random returns 16 bytes from the cryptographic source as hex.
func random() (string, error) {
	b := make([]byte, Length/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandUnavailable, err)
	}
	return hex.EncodeToString(b), nil
}

// isCanonical reports whether v is already in the 32-hex-character format.
func isCanonical(v string) bool {
	if len(v) != Length {
		return false
	}
	_, err := hex.DecodeString(v)
	return err == nil
}

// normalizeLegacy strips separator characters from a legacy-format value
// (for example a UUID with hyphens) and truncates it to canonical length.
// Returns false when the remainder is not usable hex.
func normalizeLegacy(v string) (string, bool) {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', '_', '.':
			return -1
		}
		return r
	}, v)

	if len(stripped) < Length {
		return "", false
	}
	stripped = strings.ToLower(stripped[:Length])
	if !isCanonical(stripped) {
		return "", false
	}
	return stripped, true
}
