package provider

import (
	"golang.org/x/time/rate"
)

// NewRateLimiter returns a token bucket that spaces out model calls on the
// client side, before the backend has to answer with 429s. It returns nil
// when ratePerMinute is not positive, which the Client treats as "no throttle".
func NewRateLimiter(maxBurst int, ratePerMinute float64) *rate.Limiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)
}
