package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"carenotify/pkg/exception"

	gws "github.com/gorilla/websocket"
)

// DialerOption configures the gorilla backed Dialer.
type DialerOption struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	TLSConfig        *tls.Config
	Header           http.Header
}

type dialer struct {
	opt DialerOption
	ws  *gws.Dialer
}

func NewDialer(opt DialerOption) Dialer {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	if opt.TLSConfig == nil {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &dialer{
		opt: opt,
		ws: &gws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opt.HandshakeTimeout,
			TLSClientConfig:  opt.TLSConfig,
		},
	}
}

func (d *dialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.ws.DialContext(ctx, rawURL, d.opt.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	return wrapConn(conn, d.opt.ReadLimit, d.opt.WriteTimeout), nil
}

// UpgradeOption configures server side upgrades.
type UpgradeOption struct {
	WriteTimeout time.Duration
	ReadLimit    int64
	CheckOrigin  func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request to a WebSocket Conn. Origins are accepted unless CheckOrigin says otherwise.
func Upgrade(w http.ResponseWriter, r *http.Request, opt UpgradeOption) (Conn, error) {
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	checkOrigin := opt.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	upgrader := gws.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return wrapConn(conn, opt.ReadLimit, opt.WriteTimeout), nil
}

type wsConn struct {
	conn         *gws.Conn
	writeTimeout time.Duration
}

func wrapConn(conn *gws.Conn, readLimit int64, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(readLimit)
	return &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ReadMessage(ctx context.Context) (MessageType, []byte, error) {
	if err := setDeadline(ctx, 0, c.conn.SetReadDeadline); err != nil {
		return 0, nil, err
	}
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	return MessageType(msgType), payload, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, msgType MessageType, payload []byte) error {
	if !msgType.IsData() {
		return exception.ErrWebSocketProtocol
	}
	if err := setDeadline(ctx, c.writeTimeout, c.conn.SetWriteDeadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msgType), payload)
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(int(code), reason), deadline)
	return c.conn.Close()
}

// setDeadline applies the ctx deadline, falling back to now+fallback when fallback > 0.
func setDeadline(ctx context.Context, fallback time.Duration, set func(time.Time) error) error {
	if ctx == nil {
		return set(time.Time{})
	}
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	if ctx.Err() != nil {
		return set(time.Now())
	}
	if fallback > 0 {
		return set(time.Now().Add(fallback))
	}
	return set(time.Time{})
}
