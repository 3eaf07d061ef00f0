// Package feed puts the push socket and the REST API behind one interface.
// Commands go over the socket while it is up and fall back to REST otherwise.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carenotify/internal/model"
	"carenotify/internal/rest"
	"carenotify/pkg/exception"

	"github.com/yanun0323/logs"
)

// Route tells which transport served a call.
type Route uint8

const (
	RoutePush Route = iota + 1
	RouteREST
)

func (r Route) String() string {
	switch r {
	case RoutePush:
		return "push"
	case RouteREST:
		return "rest"
	default:
		return "none"
	}
}

// Pusher is the socket side, satisfied by *notify.Client.
type Pusher interface {
	Connected() bool
	MarkAsRead(id int64) bool
	UnreadCount() int
}

// Poller is the REST side, satisfied by *rest.Client.
type Poller interface {
	List(ctx context.Context, q rest.ListQuery) (model.Page, error)
	MarkAsRead(ctx context.Context, id int64) error
	Archive(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context, recipientID string) (int, error)
}

type Feed struct {
	push        Pusher
	poll        Poller
	recipientID string
}

func New(push Pusher, poll Poller, recipientID string) (*Feed, error) {
	if push == nil || poll == nil {
		return nil, exception.ErrNilInstance
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, exception.ErrInvalidSubscriber
	}
	return &Feed{push: push, poll: poll, recipientID: recipientID}, nil
}

// MarkAsRead prefers the socket and uses REST when it is down or the send is rejected.
func (f *Feed) MarkAsRead(ctx context.Context, id int64) (Route, error) {
	if f.push.Connected() && f.push.MarkAsRead(id) {
		return RoutePush, nil
	}
	if err := f.poll.MarkAsRead(ctx, id); err != nil {
		return RouteREST, err
	}
	return RouteREST, nil
}

// List always uses REST.
func (f *Feed) List(ctx context.Context, page int, status model.StatusFilter) (model.Page, error) {
	return f.poll.List(ctx, rest.ListQuery{
		RecipientID: f.recipientID,
		Status:      status,
		Page:        page,
	})
}

// UnreadCount returns the pushed count while connected, else the REST total of UNREAD.
func (f *Feed) UnreadCount(ctx context.Context) (int, Route, error) {
	if f.push.Connected() {
		return f.push.UnreadCount(), RoutePush, nil
	}
	page, err := f.List(ctx, model.DefaultPage, model.FilterUnread)
	if err != nil {
		return 0, RouteREST, err
	}
	return page.Count, RouteREST, nil
}

func (f *Feed) Archive(ctx context.Context, id int64) error {
	return f.poll.Archive(ctx, id)
}

func (f *Feed) MarkAllAsRead(ctx context.Context) (int, error) {
	return f.poll.MarkAllAsRead(ctx, f.recipientID)
}

// Poll fetches the first UNREAD page every interval while the socket is
// down and hands it to handler. It returns when ctx is done.
func (f *Feed) Poll(ctx context.Context, interval time.Duration, handler func(model.Page)) error {
	if handler == nil {
		return fmt.Errorf("%w: nil poll handler", exception.ErrInvalidArgument)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: poll interval must be > 0", exception.ErrInvalidArgument)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if f.push.Connected() {
				continue
			}
			page, err := f.List(ctx, model.DefaultPage, model.FilterUnread)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logs.Errorf("poll notifications for %s, err: %+v", f.recipientID, err)
				continue
			}
			handler(page)
		}
	}
}
