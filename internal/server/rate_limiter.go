package server

import (
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket throttles inbound frames per connection. It starts full and
// refills continuously at burst tokens per interval.
type tokenBucket struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newTokenBucket(burst int, interval time.Duration) *tokenBucket {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSec := rate.Limit(float64(burst) / interval.Seconds())
	return &tokenBucket{
		limiter: rate.NewLimiter(perSec, burst),
		now:     time.Now,
	}
}

// allow spends one token, reporting false when the bucket is empty.
func (b *tokenBucket) allow() bool {
	return b.limiter.AllowN(b.now(), 1)
}
