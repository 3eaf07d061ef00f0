package notify

import (
	"context"
	"sync"

	"carenotify/pkg/websocket"

	"github.com/google/uuid"
)

// session owns one live transport: a read goroutine that dispatches inbound
// frames in order and a write loop draining the session's outbound queue.
type session struct {
	id     string
	conn   websocket.Conn
	writer *websocket.Writer

	onFrame func(payload []byte)
	onEnd   func(s *session, err error)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	readDone  chan struct{}
	done      chan struct{}
}

func newSession(conn websocket.Conn, queueSize int, policy websocket.OverflowPolicy, onFrame func([]byte), onEnd func(*session, error)) *session {
	ctx, cancel := context.WithCancel(context.Background())
	writer := websocket.NewWriter(queueSize, policy)
	writer.SetConnected(true)
	return &session{
		id:       uuid.NewString(),
		conn:     conn,
		writer:   writer,
		onFrame:  onFrame,
		onEnd:    onEnd,
		ctx:      ctx,
		cancel:   cancel,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *session) start() {
	go s.run()
}

// send copies payload into the outbound queue.
func (s *session) send(payload []byte) bool {
	return s.writer.Send(websocket.MessageText, payload)
}

// close stops the session. It never waits for the goroutines, so it is safe to call from a listener.
func (s *session) close(code websocket.CloseCode, reason string) {
	s.closeOnce.Do(func() {
		s.writer.SetConnected(false)
		s.cancel()
		_ = s.conn.Close(code, reason)
	})
}

func (s *session) run() {
	errCh := make(chan error, 1)
	go s.readLoop(errCh)

	err := s.writeLoop(errCh)
	s.close(websocket.CloseNormal, "session_end")
	<-s.readDone
	s.writer.Drain()
	close(s.done)

	if s.onEnd != nil {
		s.onEnd(s, err)
	}
}

func (s *session) writeLoop(errCh <-chan error) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case err := <-errCh:
			return err
		case frame := <-s.writer.Queue():
			if err := s.conn.WriteMessage(s.ctx, frame.MsgType, frame.Buf); err != nil {
				return err
			}
		}
	}
}

func (s *session) readLoop(errCh chan<- error) {
	defer close(s.readDone)
	for {
		msgType, payload, err := s.conn.ReadMessage(s.ctx)
		if err != nil {
			errCh <- err
			return
		}
		if !msgType.IsData() {
			continue
		}
		if s.ctx.Err() != nil {
			errCh <- s.ctx.Err()
			return
		}
		s.onFrame(payload)
	}
}
