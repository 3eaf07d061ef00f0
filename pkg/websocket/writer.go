package websocket

import (
	"sync/atomic"
)

// Outbound represents a queued write payload.
type Outbound struct {
	// MsgType is the WebSocket message type for the payload.
	MsgType MessageType
	// Buf is the payload buffer to send.
	Buf []byte
}

// Writer provides a bounded outbound queue for one connection.
type Writer struct {
	queue     chan Outbound
	policy    OverflowPolicy
	connected atomic.Bool
}

// NewWriter creates a Writer with a bounded queue.
func NewWriter(capacity int, policy OverflowPolicy) *Writer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Writer{
		queue:  make(chan Outbound, capacity),
		policy: policy,
	}
}

// SetConnected toggles the writer connection state.
func (w *Writer) SetConnected(connected bool) {
	w.connected.Store(connected)
}

// Connected reports whether the writer accepts frames.
func (w *Writer) Connected() bool {
	return w.connected.Load()
}

// Enqueue queues a frame for writing according to the overflow policy.
func (w *Writer) Enqueue(frame Outbound) bool {
	if !w.connected.Load() {
		return false
	}
	switch w.policy {
	case OverflowDropOldest:
		for {
			select {
			case w.queue <- frame:
				return true
			default:
				select {
				case <-w.queue:
				default:
					return false
				}
			}
		}
	default:
		select {
		case w.queue <- frame:
			return true
		default:
			return false
		}
	}
}

// Send copies payload and enqueues it.
func (w *Writer) Send(msgType MessageType, payload []byte) bool {
	if !w.connected.Load() {
		return false
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return w.Enqueue(Outbound{MsgType: msgType, Buf: buf})
}

// Queue exposes the receive side for the connection write loop.
func (w *Writer) Queue() <-chan Outbound {
	return w.queue
}

// Len returns the number of queued frames.
func (w *Writer) Len() int {
	return len(w.queue)
}

// Drain clears the queue and returns how many frames were discarded.
func (w *Writer) Drain() int {
	n := 0
	for {
		select {
		case <-w.queue:
			n++
		default:
			return n
		}
	}
}
