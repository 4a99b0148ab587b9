// Package clock wraps time.Now behind an interface so tests can inject a
// fixed clock, and derives the deterministic task id hash spec.md §4.3 uses.
package clock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now for testability.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant, for tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// TaskID derives a deterministic 16-hex-character task identifier from the
// channel, message timestamp, and raw message text — the same triple the
// Decider hashes, so the same Slack message always produces the same task id.
func TaskID(channelID, messageTS, rawText string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", channelID, messageTS, rawText)))
	return hex.EncodeToString(sum[:])[:16]
}

// NewSessionID returns a fresh random identifier for an agent-CLI session
// or dead-letter/plan correlation.
func NewSessionID() string {
	return uuid.NewString()
}
