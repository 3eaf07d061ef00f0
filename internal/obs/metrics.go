package obs

import (
	"sync/atomic"
	"time"
)

// FrameKind classifies inbound frames for counting.
type FrameKind uint8

const (
	FrameKindUnknown FrameKind = iota
	FrameKindNewNotification
	FrameKindUnreadCount
	FrameKindMarkAsReadResponse
	FrameKindNotificationsList
	FrameKindPong
	FrameKindMalformed
	_frameKindEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameKindNewNotification:
		return "new_notification"
	case FrameKindUnreadCount:
		return "unread_count"
	case FrameKindMarkAsReadResponse:
		return "mark_as_read_response"
	case FrameKindNotificationsList:
		return "notifications_list"
	case FrameKindPong:
		return "pong"
	case FrameKindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Metrics collects lightweight counters and latency stats for one client.
type Metrics struct {
	frameCounts [_frameKindEnd]uint64

	listenerPanics    uint64
	sendsAccepted     uint64
	sendsRejected     uint64
	connects          uint64
	drops             uint64
	reconnectAttempts uint64
	archiveDrops      uint64

	dispatchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	FrameCounts       map[FrameKind]uint64
	ListenerPanics    uint64
	SendsAccepted     uint64
	SendsRejected     uint64
	Connects          uint64
	Drops             uint64
	ReconnectAttempts uint64
	ArchiveDrops      uint64
	DispatchLatency   LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveFrame counts an inbound frame by kind.
func (m *Metrics) ObserveFrame(kind FrameKind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.frameCounts) {
		atomic.AddUint64(&m.frameCounts[idx], 1)
	}
}

func (m *Metrics) IncListenerPanic() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.listenerPanics, 1)
}

// ObserveSend records whether an outbound command was accepted by the queue.
func (m *Metrics) ObserveSend(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		atomic.AddUint64(&m.sendsAccepted, 1)
		return
	}
	atomic.AddUint64(&m.sendsRejected, 1)
}

func (m *Metrics) IncConnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.connects, 1)
}

func (m *Metrics) IncDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.drops, 1)
}

func (m *Metrics) IncReconnectAttempt() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnectAttempts, 1)
}

func (m *Metrics) IncArchiveDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.archiveDrops, 1)
}

// ObserveDispatch measures how long one inbound frame took to decode and fan out.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	frameCounts := make(map[FrameKind]uint64)
	for i := range m.frameCounts {
		if v := atomic.LoadUint64(&m.frameCounts[i]); v > 0 {
			frameCounts[FrameKind(i)] = v
		}
	}
	return Snapshot{
		FrameCounts:       frameCounts,
		ListenerPanics:    atomic.LoadUint64(&m.listenerPanics),
		SendsAccepted:     atomic.LoadUint64(&m.sendsAccepted),
		SendsRejected:     atomic.LoadUint64(&m.sendsRejected),
		Connects:          atomic.LoadUint64(&m.connects),
		Drops:             atomic.LoadUint64(&m.drops),
		ReconnectAttempts: atomic.LoadUint64(&m.reconnectAttempts),
		ArchiveDrops:      atomic.LoadUint64(&m.archiveDrops),
		DispatchLatency:   m.dispatchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
