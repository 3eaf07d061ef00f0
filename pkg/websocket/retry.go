package websocket

import "time"

const (
	DefaultRetryInterval    = 3 * time.Second
	DefaultRetryMaxAttempts = 5
)

// Retry defines reconnect behavior after an established connection drops.
// The delay between attempts is fixed.
type Retry struct {
	// Interval is the wait before each reconnect attempt.
	Interval time.Duration
	// MaxAttempts caps consecutive failed attempts. Zero means the default, negative disables reconnects.
	MaxAttempts int
}

// DefaultRetry provides the reconnect defaults: 5 attempts, 3s apart.
func DefaultRetry() Retry {
	return Retry{
		Interval:    DefaultRetryInterval,
		MaxAttempts: DefaultRetryMaxAttempts,
	}
}

// Normalize fills zero fields with defaults.
func (r Retry) Normalize() Retry {
	if r.Interval <= 0 {
		r.Interval = DefaultRetryInterval
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultRetryMaxAttempts
	}
	return r
}

// Allow reports whether another attempt may follow the given number of attempts already made.
func (r Retry) Allow(attempts int) bool {
	return r.MaxAttempts > 0 && attempts < r.MaxAttempts
}

// Next returns the wait before the given attempt (1-based). It does not grow with the attempt.
func (r Retry) Next(_ int) time.Duration {
	if r.Interval <= 0 {
		return DefaultRetryInterval
	}
	return r.Interval
}
