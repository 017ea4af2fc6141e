package monitoring

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	limiterMu sync.Mutex
	limiters  = map[string]*rate.Limiter{}
)

func limiterFor(key string, interval time.Duration) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	l, ok := limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(interval), 1)
		limiters[key] = l
	}
	return l
}

// RateLimited logs at most once per interval for a given key, mirroring
// the original render-issue logger's "accumulate, then emit one line per
// interval" behavior. Calls that are suppressed are silently dropped: use
// a counting caller (e.g. internal/show.MissedFrameLogger) when the
// suppressed count itself needs to be reported.
func RateLimited(key string, interval time.Duration, format string, args ...interface{}) {
	l := limiterFor(key, interval)
	if l.Allow() {
		Logf(format, args...)
	}
}

// ResetRateLimiters clears all tracked limiters. Exposed for tests that
// need a clean rate-limit state between cases.
func ResetRateLimiters() {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	limiters = map[string]*rate.Limiter{}
}
