package notify

import (
	"context"
	"time"
)

// DefaultKeepAliveInterval matches the backend's idle expectations.
const DefaultKeepAliveInterval = 30 * time.Second

// Pinger is satisfied by *Client.
type Pinger interface {
	Connected() bool
	Ping() bool
}

// KeepAlive pings every interval until ctx is done. Ticks are skipped while offline.
func KeepAlive(ctx context.Context, p Pinger, interval time.Duration) {
	if p == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Connected() {
				p.Ping()
			}
		}
	}
}
