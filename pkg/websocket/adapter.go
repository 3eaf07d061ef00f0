package websocket

import "context"

// Conn is a minimal interface for a WebSocket connection.
// ReadMessage must only be called from one goroutine, and so must WriteMessage.
// Close may be called concurrently with both.
type Conn interface {
	ReadMessage(ctx context.Context) (MessageType, []byte, error)
	WriteMessage(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, rawURL string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Conn, error) {
	return f(ctx, rawURL)
}
