package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carenotify/internal/model"
	"carenotify/internal/obs"
	"carenotify/pkg/exception"
	"carenotify/pkg/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newTestClient(t *testing.T, dialer *fakeDialer, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Host:              "api.example.com",
		Tokens:            staticToken("abc"),
		Dialer:            dialer,
		ReconnectInterval: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func connectTestClient(t *testing.T, c *Client, dialer *fakeDialer) *fakeConn {
	t.Helper()
	require.NoError(t, c.Connect(t.Context(), "42"))
	return dialer.nextConn(t)
}

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Tokens: staticToken("x")})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)

	_, err = New(Config{Host: "wss://x", Tokens: staticToken("x")})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)

	_, err = New(Config{Host: "x"})
	require.ErrorIs(t, err, exception.ErrNilTokenSource)

	_, err = New(Config{Host: "x", Tokens: staticToken("x"), WriteOverflow: websocket.OverflowPolicy(9)})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
}

func TestConnectRejectsEmptySubscriber(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	require.ErrorIs(t, c.Connect(t.Context(), " "), exception.ErrInvalidSubscriber)
	assert.EqualValues(t, 0, dialer.calls.Load())
}

func TestConnectWithoutTokenDoesNotDial(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.Tokens = staticToken("") })

	err := c.Connect(t.Context(), "42")
	require.ErrorIs(t, err, exception.ErrAuthenticationMissing)
	assert.EqualValues(t, 0, dialer.calls.Load())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Connected())
}

func TestConnectTokenSourceError(t *testing.T) {
	dialer := newFakeDialer()
	boom := errors.New("store locked")
	c := newTestClient(t, dialer, func(cfg *Config) {
		cfg.Tokens = TokenFunc(func(context.Context) (string, error) { return "", boom })
	})

	err := c.Connect(t.Context(), "42")
	require.ErrorIs(t, err, exception.ErrAuthenticationMissing)
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, dialer.calls.Load())
}

func TestConnectBuildsEndpoint(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) {
		cfg.Secure = true
		cfg.Tokens = staticToken("a+b/c")
	})
	connectTestClient(t, c, dialer)

	assert.Equal(t, "wss://api.example.com/ws/notifications/42/?token=a%2Bb%2Fc", dialer.lastURL())
	assert.Equal(t, "42", c.SubscriberID())

	insecure := newFakeDialer()
	c2 := newTestClient(t, insecure, nil)
	connectTestClient(t, c2, insecure)
	assert.Equal(t, "ws://api.example.com/ws/notifications/42/?token=abc", insecure.lastURL())
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	connectTestClient(t, c, dialer)
	require.NoError(t, c.Connect(t.Context(), "42"))
	require.NoError(t, c.Connect(t.Context(), "other"))

	assert.EqualValues(t, 1, dialer.calls.Load())
	assert.Equal(t, []bool{true}, statuses.get())
	assert.Equal(t, "42", c.SubscriberID())
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.EqualValues(t, 1, c.Metrics().Snapshot().Connects)
}

func TestConnectDialFailureDoesNotRetry(t *testing.T) {
	dialer := newFakeDialer()
	refused := errors.New("connection refused")
	dialer.setFail(func(int) error { return refused })
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	err := c.Connect(t.Context(), "42")
	require.ErrorIs(t, err, exception.ErrTransport)
	require.ErrorIs(t, err, refused)
	assert.Equal(t, StateDisconnected, c.State())

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, dialer.calls.Load())
	assert.Empty(t, statuses.get())
}

func TestSendWhileDisconnected(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	assert.False(t, c.SendMessage(map[string]string{"type": "ping"}))
	assert.False(t, c.MarkAsRead(1))
	assert.False(t, c.GetNotifications(1, model.FilterAll))
	assert.False(t, c.Ping())
	assert.EqualValues(t, 4, c.Metrics().Snapshot().SendsRejected)
	assert.EqualValues(t, 0, dialer.calls.Load())
}

func TestSendAfterDisconnectWritesNothing(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	conn := connectTestClient(t, c, dialer)

	c.Disconnect()
	assert.False(t, c.MarkAsRead(1))
	assert.True(t, conn.isClosed())
	assert.Empty(t, conn.writes)
}

func TestCommandsOnTheWire(t *testing.T) {
	dialer := newFakeDialer()
	now := time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.Now = func() time.Time { return now } })
	conn := connectTestClient(t, c, dialer)

	require.True(t, c.MarkAsRead(7))
	assert.JSONEq(t, `{"type":"mark_as_read","notification_id":7}`, readWrite(t, conn))

	require.True(t, c.GetNotifications(0, ""))
	assert.JSONEq(t, `{"type":"get_notifications","page":1,"status":"UNREAD"}`, readWrite(t, conn))

	require.True(t, c.GetNotifications(3, model.FilterAll))
	assert.JSONEq(t, `{"type":"get_notifications","page":3,"status":"ALL"}`, readWrite(t, conn))

	require.True(t, c.Ping())
	assert.JSONEq(t, `{"type":"ping","timestamp":"2024-01-02T03:04:05.678Z"}`, readWrite(t, conn))

	require.False(t, c.GetNotifications(1, "BOGUS"))
	require.False(t, c.SendMessage(failingMarshaler{}))
	assert.EqualValues(t, 4, c.Metrics().Snapshot().SendsAccepted)
}

func TestNotificationDispatchOrder(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Listener {
		return func(ev Event) {
			mu.Lock()
			order = append(order, name+":"+ev.Notification.Title)
			mu.Unlock()
		}
	}
	c.AddListener(EventNotification, record("a"))
	c.AddListener(EventNotification, record("b"))
	c.AddListener(EventNotification, record("c"))

	conn := connectTestClient(t, c, dialer)
	conn.push(`{"type":"new_notification","notification":{"id":1,"title":"Lab","is_urgent":true,"status":"UNREAD","created_at":"2024-01-01T00:00:00Z"}}`)
	conn.push(`{"type":"new_notification","notification":{"id":2,"title":"Visit","is_urgent":false,"status":"UNREAD"}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 6
	}, waitFor, tick)
	assert.Equal(t, []string{"a:Lab", "b:Lab", "c:Lab", "a:Visit", "b:Visit", "c:Visit"}, order)
}

func TestListenerPanicDoesNotStopSiblings(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	got := make(chan model.Notification, 1)
	c.OnNotification(func(model.Notification) { panic("render failed") })
	c.OnNotification(func(n model.Notification) { got <- n })

	conn := connectTestClient(t, c, dialer)
	conn.push(`{"type":"new_notification","notification":{"id":9,"title":"Rx","is_urgent":false,"status":"UNREAD"}}`)

	select {
	case n := <-got:
		assert.EqualValues(t, 9, n.ID)
	case <-time.After(waitFor):
		t.Fatalf("second listener not invoked")
	}
	require.Eventually(t, func() bool { return c.Metrics().Snapshot().ListenerPanics == 1 }, waitFor, tick)
	assert.True(t, c.Connected())
}

func TestBadFramesAreDropped(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	var mu sync.Mutex
	var events []Event
	for _, kind := range []EventKind{EventNotification, EventUnreadCount} {
		c.AddListener(kind, func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
	}

	conn := connectTestClient(t, c, dialer)
	conn.push(`not json`)
	conn.push(`{"type":"new_notification"}`)
	conn.push(`{"type":"unread_count","count":"many"}`)
	conn.push(`{"type":"mystery","payload":1}`)
	conn.push(`{"type":"pong"}`)
	conn.push(`{"type":"mark_as_read_response","notification_id":1,"success":true}`)
	conn.push(`{"type":"notifications_list","results":[],"num_pages":0,"count":0}`)
	conn.push(`{"type":"unread_count","count":2}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, EventUnreadCount, events[0].Kind)
	assert.Equal(t, 2, events[0].UnreadCount)
	mu.Unlock()

	assert.True(t, c.Connected())
	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 3, snap.FrameCounts[obs.FrameKindMalformed])
	assert.EqualValues(t, 1, snap.FrameCounts[obs.FrameKindUnknown])
	assert.EqualValues(t, 1, snap.FrameCounts[obs.FrameKindPong])
}

func TestNotificationPayloadIsRelayedAsSent(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	got := make(chan model.Notification, 4)
	c.OnNotification(func(n model.Notification) { got <- n })

	payloads := []string{
		`{"id":"n-17","title":"Lab ready","status":"UNREAD"}`,
		`{"id":18,"title":"Visit","created_at":1700000000}`,
		`{"id":19,"title":"Rx","metadata":{"ward":"B2","bed":4}}`,
	}
	conn := connectTestClient(t, c, dialer)
	conn.push(`{"type":"new_notification","notification":null}`)
	conn.push(`{"type":"new_notification","notification":"Lab ready"}`)
	for _, p := range payloads {
		conn.push(`{"type":"new_notification","notification":` + p + `}`)
	}

	for i, p := range payloads {
		select {
		case n := <-got:
			assert.JSONEq(t, p, string(n.Raw), "payload %d", i)
		case <-time.After(waitFor):
			t.Fatalf("notification %d not dispatched", i)
		}
	}
	assert.True(t, c.Connected())
	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 3, snap.FrameCounts[obs.FrameKindNewNotification])
	assert.EqualValues(t, 2, snap.FrameCounts[obs.FrameKindMalformed])
}

func TestUnreadCountIsCached(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	assert.Equal(t, 0, c.UnreadCount())

	counts := make(chan int, 2)
	c.OnUnreadCount(func(n int) { counts <- n })

	conn := connectTestClient(t, c, dialer)
	conn.push(`{"type":"unread_count","count":4}`)

	select {
	case n := <-counts:
		assert.Equal(t, 4, n)
	case <-time.After(waitFor):
		t.Fatalf("unread count not dispatched")
	}
	assert.Equal(t, 4, c.UnreadCount())
	assert.EqualValues(t, 1, dialer.calls.Load())
}

func TestRemoveListener(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	var mu sync.Mutex
	var calls []string
	add := func(name string) Subscription {
		return c.AddListener(EventUnreadCount, func(Event) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		})
	}
	add("a")
	b := add("b")
	add("c")
	unsubscribe := c.OnUnreadCount(func(int) {
		mu.Lock()
		calls = append(calls, "d")
		mu.Unlock()
	})

	c.RemoveListener(b)
	c.RemoveListener(b)
	c.RemoveListener(Subscription{})
	unsubscribe()
	assert.Equal(t, EventUnreadCount, b.Kind())
	assert.False(t, c.AddListener(EventKind(99), func(Event) {}).Valid())
	assert.False(t, c.AddListener(EventUnreadCount, nil).Valid())

	conn := connectTestClient(t, c, dialer)
	conn.push(`{"type":"unread_count","count":1}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "c"}, calls)
	mu.Unlock()
}

func TestListenerMayCallBackIntoClient(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	sent := make(chan bool, 1)
	c.OnConnectionStatus(func(connected bool) {
		if connected {
			sent <- c.MarkAsRead(5)
		}
	})

	conn := connectTestClient(t, c, dialer)
	require.True(t, <-sent)
	assert.JSONEq(t, `{"type":"mark_as_read","notification_id":5}`, readWrite(t, conn))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	c.Disconnect()
	assert.Empty(t, statuses.get())

	conn := connectTestClient(t, c, dialer)
	c.Disconnect()
	c.Disconnect()

	assert.True(t, conn.isClosed())
	assert.Equal(t, []bool{true, false}, statuses.get())
	assert.Equal(t, StateDisconnected, c.State())

	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, dialer.calls.Load())
}

func TestDisconnectFromStatusListener(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(func(connected bool) {
		statuses.add(connected)
		if connected {
			c.Disconnect()
		}
	})

	connectTestClient(t, c, dialer)
	assert.Equal(t, []bool{true, false}, statuses.get())
	assert.False(t, c.Connected())
}

func TestStatusEventsFollowState(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	for i := 0; i < 12; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Connect(t.Context(), "42")
		}()
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
		wg.Wait()

		got := statuses.get()
		for j := 1; j < len(got); j++ {
			require.NotEqualf(t, got[j-1], got[j], "repeated status at %d: %v", j, got)
		}
		if len(got) > 0 {
			require.Equal(t, c.Connected(), got[len(got)-1], "last status %v", got)
		} else {
			require.False(t, c.Connected())
		}
		c.Disconnect()
	}
}

func TestReconnectRecoversAfterDrop(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	conn := connectTestClient(t, c, dialer)
	dialer.setFail(func(call int) error {
		if call == 2 {
			return errors.New("backend restarting")
		}
		return nil
	})
	conn.drop()

	next := dialer.nextConn(t)
	require.Eventually(t, func() bool { return len(statuses.get()) == 3 }, waitFor, tick)
	assert.True(t, c.Connected())
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.EqualValues(t, 3, dialer.calls.Load())
	assert.Equal(t, []bool{true, false, true}, statuses.get())

	require.True(t, c.MarkAsRead(3))
	assert.JSONEq(t, `{"type":"mark_as_read","notification_id":3}`, readWrite(t, next))

	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.Drops)
	assert.EqualValues(t, 2, snap.ReconnectAttempts)
	assert.EqualValues(t, 2, snap.Connects)
}

func TestReconnectStopsAfterMaxAttempts(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.MaxReconnectAttempts = 3 })
	var statuses statusLog
	c.OnConnectionStatus(statuses.add)

	conn := connectTestClient(t, c, dialer)
	dialer.setFail(func(int) error { return errors.New("down") })
	conn.drop()

	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected && dialer.calls.Load() == 4
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 4, dialer.calls.Load())
	assert.Equal(t, 3, c.ReconnectAttempts())
	assert.Equal(t, []bool{true, false}, statuses.get())

	dialer.setFail(nil)
	connectTestClient(t, c, dialer)
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.Equal(t, []bool{true, false, true}, statuses.get())
}

func TestNegativeMaxAttemptsDisablesReconnect(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.MaxReconnectAttempts = -1 })

	conn := connectTestClient(t, c, dialer)
	conn.drop()

	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, dialer.calls.Load())
}

func TestDisconnectCancelsScheduledReconnect(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.ReconnectInterval = 40 * time.Millisecond })

	conn := connectTestClient(t, c, dialer)
	conn.drop()
	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, waitFor, tick)

	c.Disconnect()
	time.Sleep(120 * time.Millisecond)
	assert.EqualValues(t, 1, dialer.calls.Load())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectDuringReconnectDialsImmediately(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, func(cfg *Config) { cfg.ReconnectInterval = time.Hour })

	conn := connectTestClient(t, c, dialer)
	conn.drop()
	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, waitFor, tick)

	connectTestClient(t, c, dialer)
	assert.True(t, c.Connected())
	assert.EqualValues(t, 2, dialer.calls.Load())
}

func TestDisconnectAbortsInFlightConnect(t *testing.T) {
	dialer := newFakeDialer()
	dialer.hold = make(chan struct{})
	c := newTestClient(t, dialer, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background(), "42") }()

	require.Eventually(t, func() bool { return dialer.calls.Load() == 1 }, waitFor, tick)
	assert.Equal(t, StateConnecting, c.State())
	c.Disconnect()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, exception.ErrConnectAborted)
	case <-time.After(waitFor):
		t.Fatalf("connect did not return")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectHonoursContext(t *testing.T) {
	dialer := newFakeDialer()
	dialer.hold = make(chan struct{})
	c := newTestClient(t, dialer, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx, "42")
	require.ErrorIs(t, err, exception.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "connectionStatus", EventConnectionStatus.String())
}
