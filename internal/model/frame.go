package model

import (
	"time"

	"github.com/bytedance/sonic"
)

// FrameType is the "type" discriminator carried by every frame.
type FrameType string

// Inbound frame types.
const (
	FrameNewNotification    FrameType = "new_notification"
	FrameUnreadCount        FrameType = "unread_count"
	FrameMarkAsReadResponse FrameType = "mark_as_read_response"
	FrameNotificationsList  FrameType = "notifications_list"
	FramePong               FrameType = "pong"
)

// Outbound frame types.
const (
	FrameMarkAsRead       FrameType = "mark_as_read"
	FrameGetNotifications FrameType = "get_notifications"
	FramePing             FrameType = "ping"
)

// PingTimestampLayout is ISO8601 in UTC with millisecond precision.
const PingTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// InboundFrame decodes every inbound variant in one pass. Fields not used by a variant stay nil.
// Notification is kept undecoded, see DecodeNotification.
type InboundFrame struct {
	Type         FrameType              `json:"type"`
	Notification sonic.NoCopyRawMessage `json:"notification,omitempty"`
	Count        *int                   `json:"count,omitempty"`
}

// DecodeInbound parses a raw frame. Any syntax or type error is returned as is.
func DecodeInbound(payload []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := sonic.Unmarshal(payload, &frame); err != nil {
		return InboundFrame{}, err
	}
	return frame, nil
}

type MarkAsReadCommand struct {
	Type           FrameType `json:"type"`
	NotificationID int64     `json:"notification_id"`
}

func NewMarkAsRead(id int64) MarkAsReadCommand {
	return MarkAsReadCommand{Type: FrameMarkAsRead, NotificationID: id}
}

type GetNotificationsCommand struct {
	Type   FrameType    `json:"type"`
	Page   int          `json:"page"`
	Status StatusFilter `json:"status"`
}

// NewGetNotifications fills in the default page and filter.
func NewGetNotifications(page int, status StatusFilter) GetNotificationsCommand {
	if page <= 0 {
		page = DefaultPage
	}
	return GetNotificationsCommand{Type: FrameGetNotifications, Page: page, Status: status.OrDefault()}
}

type PingCommand struct {
	Type      FrameType `json:"type"`
	Timestamp string    `json:"timestamp"`
}

func NewPing(now time.Time) PingCommand {
	return PingCommand{Type: FramePing, Timestamp: now.UTC().Format(PingTimestampLayout)}
}

// Reply frames sent by the backend. The client accepts them without emitting events.

type NewNotificationFrame struct {
	Type         FrameType    `json:"type"`
	Notification Notification `json:"notification"`
}

type UnreadCountFrame struct {
	Type  FrameType `json:"type"`
	Count int       `json:"count"`
}

type MarkAsReadResponseFrame struct {
	Type           FrameType `json:"type"`
	NotificationID int64     `json:"notification_id"`
	Success        bool      `json:"success"`
}

type NotificationsListFrame struct {
	Type FrameType `json:"type"`
	Page
}

type PongFrame struct {
	Type FrameType `json:"type"`
}

// CommandEnvelope is used by the backend side to read the discriminator and every command field at once.
type CommandEnvelope struct {
	Type           FrameType    `json:"type"`
	NotificationID int64        `json:"notification_id,omitempty"`
	Page           int          `json:"page,omitempty"`
	Status         StatusFilter `json:"status,omitempty"`
	Timestamp      string       `json:"timestamp,omitempty"`
}
