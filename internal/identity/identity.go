// Package identity generates the prefixed ULID identifiers used across the
// transport: request idempotency tokens, session identifiers, and tab
// identifiers.
package identity

import (
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Identifier prefixes.
const (
	requestPrefix = "req_"
	sessionPrefix = "ses_"
	tabPrefix     = "tab_"
)

// DefaultTabID is the sentinel tab identifier used when a caller does not
// scope its dispatch to a particular tab.
const DefaultTabID = "tab_default"

// NewRequestToken generates a unique idempotency token for one request
// frame. Format: "req_" + ulid().
func NewRequestToken() string {
	return requestPrefix + generateULID()
}

// NewSessionID generates a unique backend session identifier.
// Format: "ses_" + ulid(). Persisted per tab so reconnects resume the same
// backend-side session.
func NewSessionID() string {
	return sessionPrefix + generateULID()
}

// NewTabID generates a unique tab identifier.
// Format: "tab_" + ulid().
func NewTabID() string {
	return tabPrefix + generateULID()
}

// IsSessionID reports whether s looks like a generated session identifier.
func IsSessionID(s string) bool {
	return hasULIDSuffix(s, sessionPrefix)
}

// IsRequestToken reports whether s looks like a generated request token.
func IsRequestToken(s string) bool {
	return hasULIDSuffix(s, requestPrefix)
}

func hasULIDSuffix(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	_, err := ulid.Parse(strings.TrimPrefix(s, prefix))
	return err == nil
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string. The shared monotonic entropy source
// guarantees strict ordering for identifiers created in the same millisecond.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// Timestamp extracts the creation time embedded in a prefixed identifier.
func Timestamp(s string) (time.Time, error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return time.Time{}, fmt.Errorf("identifier %q has no prefix", s)
	}
	id, err := ulid.Parse(s[idx+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}
	ms := id.Time()
	if ms/1000 > uint64(math.MaxInt64) {
		return time.Time{}, fmt.Errorf("ULID timestamp %d exceeds int64 range", ms)
	}
	return time.Unix(int64(ms/1000), int64(ms%1000)*1e6), nil //nolint:gosec // overflow checked above
}
