package notify

import (
	"fmt"
	"time"

	"carenotify/internal/model"
	"carenotify/internal/obs"
	"carenotify/pkg/exception"

	"github.com/yanun0323/logs"
)

// handleFrame decodes one inbound frame and fans it out. Bad frames are logged and dropped.
func (c *Client) handleFrame(payload []byte) {
	start := time.Now()
	defer func() { c.metrics.ObserveDispatch(time.Since(start)) }()

	frame, err := model.DecodeInbound(payload)
	if err != nil {
		c.malformed(payload, err)
		return
	}

	switch frame.Type {
	case model.FrameNewNotification:
		if len(frame.Notification) == 0 {
			c.malformed(payload, fmt.Errorf("new_notification without notification"))
			return
		}
		n, err := model.DecodeNotification(frame.Notification)
		if err != nil {
			c.malformed(payload, err)
			return
		}
		c.metrics.ObserveFrame(obs.FrameKindNewNotification)
		c.emit(Event{Kind: EventNotification, Notification: n})
	case model.FrameUnreadCount:
		if frame.Count == nil {
			c.malformed(payload, fmt.Errorf("unread_count without count"))
			return
		}
		c.metrics.ObserveFrame(obs.FrameKindUnreadCount)
		c.unread.Store(int64(*frame.Count))
		c.emit(Event{Kind: EventUnreadCount, UnreadCount: *frame.Count})
	case model.FrameMarkAsReadResponse:
		c.metrics.ObserveFrame(obs.FrameKindMarkAsReadResponse)
	case model.FrameNotificationsList:
		c.metrics.ObserveFrame(obs.FrameKindNotificationsList)
	case model.FramePong:
		c.metrics.ObserveFrame(obs.FrameKindPong)
	default:
		c.metrics.ObserveFrame(obs.FrameKindUnknown)
		logs.Infof("unknown frame type %q ignored", frame.Type)
	}
}

func (c *Client) malformed(payload []byte, err error) {
	c.metrics.ObserveFrame(obs.FrameKindMalformed)
	logs.Errorf("drop frame %q, err: %+v", truncate(payload, 256), fmt.Errorf("%w: %w", exception.ErrMalformedFrame, err))
}

// emit calls every listener of ev.Kind in order. A panicking listener is
// logged and skipped so the rest still run.
func (c *Client) emit(ev Event) {
	for _, e := range c.registry.snapshot(ev.Kind) {
		c.invoke(e, ev)
	}
}

func (c *Client) invoke(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncListenerPanic()
			logs.Errorf("%s listener %d, err: %+v", ev.Kind, e.id, fmt.Errorf("%w: %v", exception.ErrListenerPanic, r))
		}
	}()
	e.fn(ev)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
