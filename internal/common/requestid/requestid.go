// Package requestid generates the per-request correlation IDs attached to
// every log line and event.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// MaxRequestIDLength caps generated IDs at UUID length so log and event
// columns stay fixed-width.
const MaxRequestIDLength = 36

const (
	prefixLength    = 5
	maxCustomLength = MaxRequestIDLength - prefixLength - 1
)

// GenerateRequestID returns a request ID, honoring a caller-supplied ID
// when one was sent. A custom ID is sanitized to [a-zA-Z0-9-] and prefixed
// with 5 random hex characters so retried requests stay distinguishable:
// "my-trace" becomes "a3f01-my-trace". Without a usable custom ID the
// result is a plain UUID.
func GenerateRequestID(customID string) string {
	sanitized := sanitizeCustomID(customID)
	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > maxCustomLength {
		sanitized = sanitized[:maxCustomLength]
	}

	return randomPrefix() + "-" + sanitized
}

// sanitizeCustomID keeps alphanumerics, turns spaces into hyphens,
// collapses hyphen runs and drops everything else. Leading and trailing
// hyphens are removed.
func sanitizeCustomID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingHyphen := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingHyphen = false
		case r == '-' || r == ' ':
			pendingHyphen = true
		}
	}

	return b.String()
}

func randomPrefix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a UUID slice
		// keeps this path non-panicking anyway
		return uuid.New().String()[:prefixLength]
	}
	return hex.EncodeToString(buf)[:prefixLength]
}
