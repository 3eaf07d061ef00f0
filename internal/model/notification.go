package model

// Status is the lifecycle state of a notification on the backend.
type Status string

const (
	StatusUnread   Status = "UNREAD"
	StatusRead     Status = "READ"
	StatusArchived Status = "ARCHIVED"
)

func (s Status) IsAvailable() bool {
	switch s {
	case StatusUnread, StatusRead, StatusArchived:
		return true
	default:
		return false
	}
}

// StatusFilter selects notifications by status when listing. It accepts every Status plus StatusAll.
type StatusFilter string

const (
	FilterUnread                = StatusFilter(StatusUnread)
	FilterRead                  = StatusFilter(StatusRead)
	FilterArchived              = StatusFilter(StatusArchived)
	FilterAll      StatusFilter = "ALL"

	DefaultFilter = FilterUnread
	DefaultPage   = 1
)

func (f StatusFilter) IsAvailable() bool {
	return f == FilterAll || Status(f).IsAvailable()
}

// OrDefault returns DefaultFilter for the zero value.
func (f StatusFilter) OrDefault() StatusFilter {
	if f == "" {
		return DefaultFilter
	}
	return f
}

// Match reports whether a notification with status s passes the filter.
func (f StatusFilter) Match(s Status) bool {
	return f == FilterAll || Status(f) == s
}

// Notification is owned by the backend. The client relays it as received.
type Notification struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content,omitempty"`
	IsUrgent    bool   `json:"is_urgent"`
	Status      Status `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
	Service     string `json:"service,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`

	// Raw is the notification object exactly as the backend sent it. Empty for locally built values.
	Raw []byte `json:"-"`
}

// Page is one page of the REST notification listing.
type Page struct {
	Results  []Notification `json:"results"`
	NumPages int            `json:"num_pages"`
	Count    int            `json:"count"`
}
