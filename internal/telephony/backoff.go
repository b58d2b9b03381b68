package telephony

import (
	"math/rand"
	"time"
)

// backoff implements exponential backoff with jitter for reconnection
// attempts. Jitter prevents thundering herd when several processes lose
// the same PBX at once.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{
		baseDelay: base,
		maxDelay:  5 * time.Minute,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	// Add ±20% jitter.
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
