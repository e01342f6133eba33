package server

import (
	"sync"
	"time"
)

// rateLimiter paces inbound lines with a token bucket holding up to burst
// tokens and refilled at burst tokens per interval. Lines are never dropped:
// a reader without a token is told how long to wait for the next one.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	perSec float64
	last   time.Time
	now    func() time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens: float64(burst),
		burst:  float64(burst),
		perSec: float64(burst) / interval.Seconds(),
		last:   time.Now(),
		now:    time.Now,
	}
}

// reserve takes one token and returns the delay before it may be spent.
// The balance can go negative, so back-to-back reservations queue up in
// arrival order.
func (rl *rateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+elapsed.Seconds()*rl.perSec)
	}
	rl.last = now

	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.perSec * float64(time.Second))
}
