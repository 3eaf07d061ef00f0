package notify

import (
	"sync"

	"carenotify/internal/model"
)

// EventKind names the events a Client emits to local subscribers.
type EventKind uint8

const (
	EventNotification EventKind = iota + 1
	EventUnreadCount
	EventConnectionStatus
)

func (k EventKind) String() string {
	switch k {
	case EventNotification:
		return "notification"
	case EventUnreadCount:
		return "unreadCount"
	case EventConnectionStatus:
		return "connectionStatus"
	default:
		return "unknown"
	}
}

func (k EventKind) IsAvailable() bool {
	return k >= EventNotification && k <= EventConnectionStatus
}

// Event carries one payload. Only the field matching Kind is set.
type Event struct {
	Kind         EventKind
	Notification model.Notification
	UnreadCount  int
	Connected    bool
}

// Listener receives events on the dispatching goroutine.
type Listener func(Event)

// Subscription identifies one registered listener. The zero value is never registered.
type Subscription struct {
	kind EventKind
	id   uint64
}

func (s Subscription) Kind() EventKind {
	return s.kind
}

func (s Subscription) Valid() bool {
	return s.id != 0
}

type entry struct {
	id uint64
	fn Listener
}

// registry keeps listeners per kind in insertion order.
type registry struct {
	mu        sync.RWMutex
	seq       uint64
	listeners map[EventKind][]entry
}

func newRegistry() *registry {
	return &registry{listeners: make(map[EventKind][]entry)}
}

func (r *registry) add(kind EventKind, fn Listener) Subscription {
	if fn == nil || !kind.IsAvailable() {
		return Subscription{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.listeners[kind] = append(r.listeners[kind], entry{id: r.seq, fn: fn})
	return Subscription{kind: kind, id: r.seq}
}

func (r *registry) remove(sub Subscription) bool {
	if !sub.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[sub.kind]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		r.listeners[sub.kind] = next
		return true
	}
	return false
}

// snapshot returns the listeners of kind at call time. Changes made while
// dispatching apply from the next event.
func (r *registry) snapshot(kind EventKind) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listeners[kind]
}
