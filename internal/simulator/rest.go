package simulator

import (
	"net/http"
	"strconv"
	"strings"

	"carenotify/internal/model"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/yanun0323/logs"
)

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.tokenAccepted(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipient := q.Get("recipient_id")
	filter := model.StatusFilter(q.Get("status"))
	if filter == "" {
		filter = model.FilterAll
	}
	if !filter.IsAvailable() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid status"})
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))

	s.mu.Lock()
	out := s.pageLocked(recipient, filter, page)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkAsRead(w http.ResponseWriter, r *http.Request) {
	s.handleStatusChange(w, r, model.StatusRead)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	s.handleStatusChange(w, r, model.StatusArchived)
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request, status model.Status) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid id"})
		return
	}
	recipient, ok := s.setStatus(id, status)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
	s.PushUnreadCount(recipient)
}

func (s *Server) handleMarkAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := sonic.ConfigFastest.NewDecoder(r.Body).Decode(&body); err != nil || body.RecipientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "recipient_id required"})
		return
	}

	s.mu.Lock()
	updated := 0
	for i := range s.items {
		if s.items[i].RecipientID == body.RecipientID && s.items[i].Status == model.StatusUnread {
			s.items[i].Status = model.StatusRead
			updated++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
	s.PushUnreadCount(body.RecipientID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		logs.Errorf("simulator encode response, err: %+v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
