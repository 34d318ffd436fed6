package resilience

import (
	"math/rand/v2"
	"time"
)

// maxBackoff bounds the delay between attempts; checkout calls are interactive.
const maxBackoff = 2 * time.Second

// Backoff returns the delay before retry number attempt (1-based): base
// doubled per attempt, capped at maxBackoff, spread by ±jitter of itself.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(attempt, 1)
	d := maxBackoff
	if attempt < 16 {
		if shifted := base << (attempt - 1); shifted > 0 {
			d = min(shifted, maxBackoff)
		}
	}
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
