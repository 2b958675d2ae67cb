package resilience

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Backoff computes requeue delays for runs that failed with a retryable
// error. Jitter is derived from the run id and attempt so the same failure
// always yields the same delay.
type Backoff struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64
}

// DefaultBackoff is 30s doubling per attempt, capped at 10m, ±20%.
func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Max: 600 * time.Second, JitterFraction: 0.2}
}

// Delay returns min(Base*2^(attempt-1), Max) scaled by a jitter factor in
// [1-JitterFraction, 1+JitterFraction] taken from sha256("<key>:<attempt>").
func (b Backoff) Delay(key string, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(b.Base) * math.Pow(2, float64(attempt-1))
	raw = math.Min(raw, float64(b.Max))

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, attempt)))
	unit := float64(binary.BigEndian.Uint64(sum[:8])) / float64(math.MaxUint64)
	factor := 1 + (unit*2-1)*b.JitterFraction

	return time.Duration(raw * factor)
}
