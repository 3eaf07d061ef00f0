package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carenotify/pkg/websocket"
)

var errFakeClosed = errors.New("fake conn closed")

type fakeConn struct {
	inbound   chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case p := <-c.inbound:
		return websocket.MessageText, p, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, msgType websocket.MessageType, payload []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.writes <- payload
	return nil
}

func (c *fakeConn) Close(websocket.CloseCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers a server frame.
func (c *fakeConn) push(payload string) {
	c.inbound <- []byte(payload)
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	_ = c.Close(websocket.CloseGoingAway, "")
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	calls atomic.Int32
	conns chan *fakeConn

	mu   sync.Mutex
	urls []string
	fail func(call int) error
	hold chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (websocket.Conn, error) {
	n := int(d.calls.Add(1))
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	fail := d.fail
	hold := d.hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setFail(fn func(call int) error) {
	d.mu.Lock()
	d.fail = fn
	d.mu.Unlock()
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatalf("no connection dialed")
		return nil
	}
}

type statusLog struct {
	mu sync.Mutex
	v  []bool
}

func (l *statusLog) add(connected bool) {
	l.mu.Lock()
	l.v = append(l.v, connected)
	l.mu.Unlock()
}

func (l *statusLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.v...)
}

func staticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

func readWrite(t *testing.T, conn *fakeConn) string {
	t.Helper()
	select {
	case p := <-conn.writes:
		return string(p)
	case <-time.After(time.Second):
		t.Fatalf("no frame written")
		return ""
	}
}
