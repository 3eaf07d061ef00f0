// Package simulator is an in-memory notification backend speaking the socket protocol and the REST API.
// It backs the end-to-end tests and the mockserver tool.
package simulator

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"carenotify/internal/chaos"
	"carenotify/internal/model"
	"carenotify/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/yanun0323/logs"
)

const (
	defaultPageSize = 10
	writeTimeout    = 5 * time.Second
)

// Config controls the simulated backend.
type Config struct {
	// Token is the expected bearer token. Empty accepts any non-empty token.
	Token string
	// Chaos, when enabled, is applied to every pushed frame. Each socket gets
	// its own engine so buffered frames never cross sockets.
	Chaos    chaos.Config
	PageSize int
	Now      func() time.Time
}

type Server struct {
	cfg    Config
	router *mux.Router

	mu     sync.Mutex
	items  []model.Notification
	nextID int64
	peers  map[string]map[string]*peer
	seen   []model.CommandEnvelope

	reject   atomic.Bool
	upgrades atomic.Int32
}

type peer struct {
	id        string
	recipient string
	conn      websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once

	chaosMu sync.Mutex
	chaos   *chaos.Engine
}

func New(cfg Config) *Server {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg:   cfg,
		peers: make(map[string]map[string]*peer),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/notifications/{subscriber}/", s.handleSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api/notifications/in-app").Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/mark_all_as_read/", s.handleMarkAll).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}/mark_as_read/", s.handleMarkAsRead).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}/archive/", s.handleArchive).Methods(http.MethodPost)
	api.HandleFunc("/", s.handleList).Methods(http.MethodGet)
	return router
}

// SetRejectUpgrades makes new socket handshakes fail with 503 while on.
func (s *Server) SetRejectUpgrades(on bool) {
	s.reject.Store(on)
}

// Upgrades counts successful socket handshakes.
func (s *Server) Upgrades() int {
	return int(s.upgrades.Load())
}

// Connections counts live sockets for recipient, or all sockets when recipient is empty.
func (s *Server) Connections(recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recipient != "" {
		return len(s.peers[recipient])
	}
	n := 0
	for _, set := range s.peers {
		n += len(set)
	}
	return n
}

// Recipients lists recipients with at least one live socket.
func (s *Server) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for r, set := range s.peers {
		if len(set) > 0 {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// DropConnections closes live sockets for recipient, or every socket when recipient is empty.
func (s *Server) DropConnections(recipient string) int {
	targets := s.peersOf(recipient)
	for _, p := range targets {
		p.drain()
		p.close(websocket.CloseGoingAway, "server drop")
	}
	return len(targets)
}

// Commands returns every command received over sockets, in arrival order.
func (s *Server) Commands() []model.CommandEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CommandEnvelope(nil), s.seen...)
}

// Publish stores n for recipient and pushes it followed by the new unread count.
// Zero ID, status and created_at are filled in.
func (s *Server) Publish(recipient string, n model.Notification) model.Notification {
	s.mu.Lock()
	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
	} else if n.ID > s.nextID {
		s.nextID = n.ID
	}
	if !n.Status.IsAvailable() {
		n.Status = model.StatusUnread
	}
	if n.CreatedAt == "" {
		n.CreatedAt = s.cfg.Now().UTC().Format(time.RFC3339)
	}
	n.RecipientID = recipient
	s.items = append(s.items, n)
	s.mu.Unlock()

	s.broadcast(recipient, model.NewNotificationFrame{Type: model.FrameNewNotification, Notification: n})
	s.PushUnreadCount(recipient)
	return n
}

// PushRaw writes payload as is to every socket of recipient.
func (s *Server) PushRaw(recipient string, payload []byte) int {
	targets := s.peersOf(recipient)
	for _, p := range targets {
		s.deliver(p, payload)
	}
	return len(targets)
}

func (s *Server) PushUnreadCount(recipient string) {
	s.broadcast(recipient, model.UnreadCountFrame{Type: model.FrameUnreadCount, Count: s.UnreadCount(recipient)})
}

// Inbox returns recipient's notifications, newest first.
func (s *Server) Inbox(recipient string, filter model.StatusFilter) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(recipient, filter)
}

func (s *Server) UnreadCount(recipient string) int {
	return len(s.Inbox(recipient, model.FilterUnread))
}

func (s *Server) filterLocked(recipient string, filter model.StatusFilter) []model.Notification {
	var out []model.Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if n.RecipientID == recipient && filter.Match(n.Status) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Server) pageLocked(recipient string, filter model.StatusFilter, page int) model.Page {
	all := s.filterLocked(recipient, filter)
	if page <= 0 {
		page = model.DefaultPage
	}
	size := s.cfg.PageSize
	out := model.Page{
		Results:  []model.Notification{},
		Count:    len(all),
		NumPages: (len(all) + size - 1) / size,
	}
	start := (page - 1) * size
	if start < len(all) {
		end := min(start+size, len(all))
		out.Results = all[start:end]
	}
	return out
}

// setStatus moves notification id to status. ok is false when id is unknown.
func (s *Server) setStatus(id int64, status model.Status) (recipient string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Status = status
			return s.items[i].RecipientID, true
		}
	}
	return "", false
}

func (s *Server) tokenAccepted(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return s.cfg.Token == "" || token == s.cfg.Token
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	recipient := mux.Vars(r)["subscriber"]
	if !s.tokenAccepted(r.URL.Query().Get("token")) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Upgrade(w, r, websocket.UpgradeOption{WriteTimeout: writeTimeout})
	if err != nil {
		logs.Errorf("upgrade socket for %s, err: %+v", recipient, err)
		return
	}
	n := s.upgrades.Add(1)

	p := &peer{id: uuid.NewString(), recipient: recipient, conn: conn, chaos: s.newChaos(n)}
	s.register(p)
	defer s.unregister(p)
	logs.Infof("simulator socket %s opened for subscriber %s", p.id, recipient)

	for {
		msgType, payload, err := conn.ReadMessage(context.Background())
		if err != nil {
			logs.Infof("simulator socket %s closed, err: %v", p.id, err)
			return
		}
		if !msgType.IsData() {
			continue
		}
		s.handleCommand(p, payload)
	}
}

func (s *Server) handleCommand(p *peer, payload []byte) {
	var cmd model.CommandEnvelope
	if err := sonic.Unmarshal(payload, &cmd); err != nil {
		logs.Errorf("simulator command from %s, err: %+v", p.id, err)
		return
	}
	s.mu.Lock()
	s.seen = append(s.seen, cmd)
	s.mu.Unlock()

	switch cmd.Type {
	case model.FrameMarkAsRead:
		_, ok := s.setStatus(cmd.NotificationID, model.StatusRead)
		s.send(p, model.MarkAsReadResponseFrame{
			Type:           model.FrameMarkAsReadResponse,
			NotificationID: cmd.NotificationID,
			Success:        ok,
		})
		if ok {
			s.PushUnreadCount(p.recipient)
		}
	case model.FrameGetNotifications:
		status := cmd.Status.OrDefault()
		if !status.IsAvailable() {
			status = model.DefaultFilter
		}
		s.mu.Lock()
		page := s.pageLocked(p.recipient, status, cmd.Page)
		s.mu.Unlock()
		s.send(p, model.NotificationsListFrame{Type: model.FrameNotificationsList, Page: page})
	case model.FramePing:
		s.send(p, model.PongFrame{Type: model.FramePong})
	default:
		logs.Infof("simulator ignored command %q from %s", cmd.Type, p.id)
	}
}

func (s *Server) register(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.peers[p.recipient]
	if set == nil {
		set = make(map[string]*peer)
		s.peers[p.recipient] = set
	}
	set[p.id] = p
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	if set := s.peers[p.recipient]; set != nil {
		delete(set, p.id)
		if len(set) == 0 {
			delete(s.peers, p.recipient)
		}
	}
	s.mu.Unlock()
	p.drain()
	p.close(websocket.CloseNormal, "")
}

// newChaos builds the engine for the n-th socket. A fixed seed stays
// reproducible by offsetting it per socket.
func (s *Server) newChaos(n int32) *chaos.Engine {
	if !s.cfg.Chaos.Enabled() {
		return nil
	}
	cfg := s.cfg.Chaos
	if cfg.Seed != 0 {
		cfg.Seed += int64(n) - 1
	}
	engine, err := chaos.NewEngine(cfg)
	if err != nil {
		logs.Errorf("simulator chaos config, err: %+v", err)
		return nil
	}
	return engine
}

func (s *Server) peersOf(recipient string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*peer
	for r, set := range s.peers {
		if recipient != "" && r != recipient {
			continue
		}
		for _, p := range set {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) broadcast(recipient string, frame any) {
	payload, err := sonic.Marshal(frame)
	if err != nil {
		logs.Errorf("simulator encode %T, err: %+v", frame, err)
		return
	}
	for _, p := range s.peersOf(recipient) {
		s.deliver(p, payload)
	}
}

// send replies to one command. Replies skip chaos so request/response tests stay deterministic.
func (s *Server) send(p *peer, frame any) {
	payload, err := sonic.Marshal(frame)
	if err != nil {
		logs.Errorf("simulator encode %T, err: %+v", frame, err)
		return
	}
	p.write(payload)
}

// deliver pushes one frame through the peer's chaos engine, if any.
func (s *Server) deliver(p *peer, payload []byte) {
	if p.chaos == nil {
		p.write(payload)
		return
	}
	p.chaosMu.Lock()
	frames := p.chaos.Process(chaos.Frame{Payload: payload})
	cut := p.chaos.ShouldDisconnect()
	p.chaosMu.Unlock()

	p.writeFrames(frames)
	if cut {
		logs.Infof("chaos: dropping socket %s", p.id)
		p.drain()
		p.close(websocket.CloseGoingAway, "chaos")
	}
}

// drain writes frames still held back by the reorder window.
func (p *peer) drain() {
	if p.chaos == nil {
		return
	}
	p.chaosMu.Lock()
	frames := p.chaos.Flush()
	p.chaosMu.Unlock()
	p.writeFrames(frames)
}

func (p *peer) writeFrames(frames []chaos.Frame) {
	for _, f := range frames {
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		p.write(f.Payload)
	}
}

func (p *peer) write(payload []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.conn.WriteMessage(ctx, websocket.MessageText, payload); err != nil {
		logs.Errorf("simulator write to %s, err: %+v", p.id, err)
	}
}

func (p *peer) close(code websocket.CloseCode, reason string) {
	p.closeOnce.Do(func() {
		_ = p.conn.Close(code, reason)
	})
}
