package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketProtocol     = errors.New("websocket: protocol error")
	ErrWebSocketNotConnected = errors.New("websocket: not connected")
	ErrWebSocketQueueFull    = errors.New("websocket: outbound queue full")
)
