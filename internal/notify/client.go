package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"carenotify/internal/model"
	"carenotify/internal/obs"
	"carenotify/pkg/exception"
	"carenotify/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"
)

const notificationsPath = "/ws/notifications/"

// TokenSource supplies the bearer token for the WebSocket query string.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Config defines the client runtime configuration.
type Config struct {
	// Host is host[:port] of the notification backend, without scheme.
	Host string
	// Secure selects wss instead of ws.
	Secure bool
	Tokens TokenSource
	// Dialer defaults to the gorilla backed dialer.
	Dialer websocket.Dialer

	// MaxReconnectAttempts caps retries after a drop. Zero means 5, negative disables reconnects.
	MaxReconnectAttempts int
	// ReconnectInterval is the fixed wait before each retry. Zero means 3s.
	ReconnectInterval time.Duration

	WriteQueueSize int
	WriteOverflow  websocket.OverflowPolicy

	Metrics *obs.Metrics
	Now     func() time.Time
}

// Client keeps one WebSocket to the notification backend, fans inbound
// events out to listeners, sends commands and reconnects after drops.
// Build one per user session and share it.
type Client struct {
	cfg      Config
	retry    websocket.Retry
	registry *registry
	metrics  *obs.Metrics
	now      func() time.Time

	unread atomic.Int64

	// dialMu serializes dials; mu guards the fields below it. Listeners are
	// never called while either is held.
	dialMu sync.Mutex

	mu           sync.Mutex
	state        State
	subscriberID string
	session      *session
	attempts     int
	generation   uint64
	timer        *time.Timer
	dialCancel   context.CancelFunc

	// announced is the connected value listeners saw last; announcing is set
	// while one goroutine is delivering connectionStatus events.
	announced  bool
	announcing bool
}

// New validates config and builds a disconnected client.
func New(cfg Config) (*Client, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: empty host", exception.ErrInvalidConfig)
	}
	if strings.Contains(cfg.Host, "://") {
		return nil, fmt.Errorf("%w: host must not include a scheme", exception.ErrInvalidConfig)
	}
	if cfg.Tokens == nil {
		return nil, exception.ErrNilTokenSource
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.NewDialer(websocket.DialerOption{})
	}
	if !cfg.WriteOverflow.IsAvailable() {
		return nil, fmt.Errorf("%w: unsupported write overflow policy %d", exception.ErrInvalidConfig, cfg.WriteOverflow)
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = websocket.DefaultWriteQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		cfg: cfg,
		retry: websocket.Retry{
			Interval:    cfg.ReconnectInterval,
			MaxAttempts: cfg.MaxReconnectAttempts,
		}.Normalize(),
		registry: newRegistry(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}, nil
}

// Connect opens the transport for subscriberID and blocks until it is open or fails.
// It is a no-op when the client is already connected.
func (c *Client) Connect(ctx context.Context, subscriberID string) error {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return exception.ErrInvalidSubscriber
	}

	c.dialMu.Lock()
	c.mu.Lock()
	if c.state == StateConnected {
		current := c.subscriberID
		c.mu.Unlock()
		c.dialMu.Unlock()
		if current != subscriberID {
			logs.Infof("connect ignored, already connected as subscriber %s (requested %s)", current, subscriberID)
		}
		return nil
	}

	c.stopTimerLocked()
	c.generation++
	gen := c.generation
	c.subscriberID = subscriberID
	c.state = StateConnecting
	c.attempts = 0
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.mu.Unlock()

	s, err := c.open(dialCtx, subscriberID)
	cancel()

	c.mu.Lock()
	c.dialCancel = nil
	if gen != c.generation {
		c.mu.Unlock()
		c.dialMu.Unlock()
		if s != nil {
			s.close(websocket.CloseNormal, "client disconnect")
		}
		return exception.ErrConnectAborted
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.dialMu.Unlock()
		logs.Errorf("connect subscriber %s, err: %+v", subscriberID, err)
		return err
	}
	c.session = s
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()
	c.dialMu.Unlock()

	c.established(s)
	return nil
}

// Disconnect closes the transport and cancels any scheduled or in-flight reconnect. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.stopTimerLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	s := c.session
	c.session = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if s != nil {
		s.close(websocket.CloseNormal, "client disconnect")
	}
	if wasConnected {
		logs.Info("notification socket disconnected")
	}
	c.syncStatus()
}

// SendMessage encodes msg as JSON and queues it on the live transport.
// It reports false instead of failing when the client is not connected,
// the message cannot be encoded or the outbound queue is full.
func (c *Client) SendMessage(msg any) bool {
	c.mu.Lock()
	s := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || s == nil {
		c.metrics.ObserveSend(false)
		logs.Errorf("send %T, err: %+v", msg, fmt.Errorf("%w: %w", exception.ErrSendFailure, exception.ErrWebSocketNotConnected))
		return false
	}

	payload, err := sonic.Marshal(msg)
	if err != nil {
		c.metrics.ObserveSend(false)
		logs.Errorf("send %T, err: %+v", msg, fmt.Errorf("%w: encode: %w", exception.ErrSendFailure, err))
		return false
	}

	if !s.send(payload) {
		c.metrics.ObserveSend(false)
		logs.Errorf("send %T, err: %+v", msg, fmt.Errorf("%w: %w", exception.ErrSendFailure, exception.ErrWebSocketQueueFull))
		return false
	}
	c.metrics.ObserveSend(true)
	return true
}

// MarkAsRead asks the backend to mark one notification read.
func (c *Client) MarkAsRead(id int64) bool {
	return c.SendMessage(model.NewMarkAsRead(id))
}

// GetNotifications requests a page over the socket. Zero values select page 1 and UNREAD.
func (c *Client) GetNotifications(page int, status model.StatusFilter) bool {
	status = status.OrDefault()
	if !status.IsAvailable() {
		logs.Errorf("get notifications, err: %+v", fmt.Errorf("%w: %s", exception.ErrInvalidStatus, status))
		return false
	}
	return c.SendMessage(model.NewGetNotifications(page, status))
}

// Ping sends a liveness probe stamped with the current time.
func (c *Client) Ping() bool {
	return c.SendMessage(model.NewPing(c.now()))
}

// UnreadCount returns the last count pushed by the backend.
func (c *Client) UnreadCount() int {
	return int(c.unread.Load())
}

func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the retries made since the last successful open.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) SubscriberID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriberID
}

func (c *Client) Metrics() *obs.Metrics {
	return c.metrics
}

// AddListener registers fn for kind. Listeners of a kind run in registration order.
func (c *Client) AddListener(kind EventKind, fn Listener) Subscription {
	return c.registry.add(kind, fn)
}

// RemoveListener unregisters a listener. Unknown or already removed subscriptions are ignored.
func (c *Client) RemoveListener(sub Subscription) {
	c.registry.remove(sub)
}

// OnNotification registers fn for pushed notifications and returns its unsubscribe func.
func (c *Client) OnNotification(fn func(model.Notification)) func() {
	sub := c.AddListener(EventNotification, func(ev Event) { fn(ev.Notification) })
	return func() { c.RemoveListener(sub) }
}

// OnUnreadCount registers fn for unread count updates and returns its unsubscribe func.
func (c *Client) OnUnreadCount(fn func(int)) func() {
	sub := c.AddListener(EventUnreadCount, func(ev Event) { fn(ev.UnreadCount) })
	return func() { c.RemoveListener(sub) }
}

// OnConnectionStatus registers fn for connected flag changes and returns its unsubscribe func.
func (c *Client) OnConnectionStatus(fn func(bool)) func() {
	sub := c.AddListener(EventConnectionStatus, func(ev Event) { fn(ev.Connected) })
	return func() { c.RemoveListener(sub) }
}

// open resolves the token, dials and wraps the transport in an unstarted session.
func (c *Client) open(ctx context.Context, subscriberID string) (*session, error) {
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", exception.ErrAuthenticationMissing, err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, exception.ErrAuthenticationMissing
	}

	conn, err := c.cfg.Dialer.Dial(ctx, c.endpoint(subscriberID, token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", exception.ErrTransport, err)
	}
	return newSession(conn, c.cfg.WriteQueueSize, c.cfg.WriteOverflow, c.handleFrame, c.handleEnd), nil
}

func (c *Client) endpoint(subscriberID, token string) string {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.cfg.Host,
		Path:     notificationsPath + subscriberID + "/",
		RawQuery: url.Values{"token": []string{token}}.Encode(),
	}
	return u.String()
}

// established announces a freshly installed session and starts its loops.
func (c *Client) established(s *session) {
	c.metrics.IncConnect()
	logs.Infof("notification socket connected, subscriber: %s, session: %s", c.SubscriberID(), s.id)

	c.syncStatus()
	s.start()
}

// syncStatus emits connectionStatus until listeners have seen the current
// connected value. One goroutine emits at a time; a caller that finds another
// one emitting leaves the catch-up to it, so events alternate and the last one
// always matches Connected.
func (c *Client) syncStatus() {
	c.mu.Lock()
	if c.announcing {
		c.mu.Unlock()
		return
	}
	c.announcing = true
	for {
		connected := c.state == StateConnected
		if connected == c.announced {
			c.announcing = false
			c.mu.Unlock()
			return
		}
		c.announced = connected
		c.mu.Unlock()
		c.emit(Event{Kind: EventConnectionStatus, Connected: connected})
		c.mu.Lock()
	}
}

// handleEnd runs when a session's loops exit. Sessions closed by the client are no longer current and are ignored.
func (c *Client) handleEnd(s *session, err error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.metrics.IncDrop()
	if c.retry.Allow(c.attempts) {
		c.state = StateReconnecting
		c.scheduleLocked(c.generation)
	} else {
		c.state = StateDisconnected
	}
	next := c.state
	c.mu.Unlock()

	logs.Errorf("notification socket dropped, session: %s, next: %s, err: %+v", s.id, next, err)
	c.syncStatus()
}

func (c *Client) scheduleLocked(gen uint64) {
	wait := c.retry.Next(c.attempts + 1)
	c.timer = time.AfterFunc(wait, func() { c.reconnect(gen) })
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// reconnect makes one scheduled attempt and reschedules itself while attempts remain.
func (c *Client) reconnect(gen uint64) {
	c.dialMu.Lock()
	c.mu.Lock()
	if gen != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		c.dialMu.Unlock()
		return
	}
	c.timer = nil
	c.attempts++
	attempt := c.attempts
	subscriberID := c.subscriberID
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.mu.Unlock()

	c.metrics.IncReconnectAttempt()
	logs.Infof("reconnecting notification socket, attempt %d/%d", attempt, c.retry.MaxAttempts)
	s, err := c.open(ctx, subscriberID)
	cancel()

	c.mu.Lock()
	c.dialCancel = nil
	if gen != c.generation {
		c.mu.Unlock()
		c.dialMu.Unlock()
		if s != nil {
			s.close(websocket.CloseNormal, "client disconnect")
		}
		return
	}
	if err != nil {
		if c.retry.Allow(c.attempts) {
			c.scheduleLocked(gen)
		} else {
			c.state = StateDisconnected
		}
		next := c.state
		c.mu.Unlock()
		c.dialMu.Unlock()
		logs.Errorf("reconnect attempt %d, next: %s, err: %+v", attempt, next, err)
		return
	}
	c.session = s
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()
	c.dialMu.Unlock()

	c.established(s)
}
