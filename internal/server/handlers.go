package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/schaermu/nbpuller/internal/protocol"
	"github.com/schaermu/nbpuller/internal/sync"
)

const closeWriteWait = time.Second

// InteractResponse tells the client which socket to open for its sync
type InteractResponse struct {
	Username  string `json:"username"`
	SocketURL string `json:"socket_url"`
}

// RequestFromQuery builds a sync request from repo, branch, domain,
// account, notebook_path and the repeatable path parameter.
func RequestFromQuery(username string, q url.Values) sync.Request {
	return sync.Request{
		Username:     username,
		Repo:         q.Get("repo"),
		Branch:       q.Get("branch"),
		Domain:       q.Get("domain"),
		Account:      q.Get("account"),
		Paths:        q["path"],
		NotebookPath: q.Get("notebook_path"),
	}
}

// prepare authenticates the caller and validates the query. It writes the
// error response itself and returns false when the request must stop.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (sync.Request, bool) {
	username := s.authenticate(r)
	if username == "" {
		writeJSON(w, http.StatusUnauthorized,
			protocol.Error(string(sync.KindInvalidRequest), "Authentication required.", s.cfg.Redirect.ErrorURL))
		return sync.Request{}, false
	}

	req := RequestFromQuery(username, r.URL.Query()).WithDefaults(s.cfg)
	if err := req.Validate(); err != nil {
		s.logger.Warn("rejecting malformed request",
			"request_id", middleware.GetReqID(r.Context()), "user", username, "error", err)
		writeJSON(w, http.StatusBadRequest,
			protocol.Error(string(sync.KindInvalidRequest), sync.PublicMessage(sync.KindInvalidRequest), s.cfg.Redirect.ErrorURL))
		return sync.Request{}, false
	}
	return req, true
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	req, ok := s.prepare(w, r)
	if !ok {
		return
	}

	socketURL := path.Join(s.cfg.Serve.BaseURL, "socket", url.PathEscape(req.Username))
	if r.URL.RawQuery != "" {
		socketURL += "?" + r.URL.RawQuery
	}
	writeJSON(w, http.StatusOK, InteractResponse{Username: req.Username, SocketURL: socketURL})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.prepare(w, r)
	if !ok {
		return
	}

	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()), "sync_id", uuid.NewString())
	logger.Info("sync requested", "user", req.Username, "repo", req.Repo, "paths", req.Paths)

	outcome := s.syncer.Sync(r.Context(), req, nil)
	writeJSON(w, statusFor(outcome), protocol.FromOutcome(outcome))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	req, ok := s.prepare(w, r)
	if !ok {
		return
	}
	if want := chi.URLParam(r, "username"); want != req.Username {
		writeJSON(w, http.StatusForbidden,
			protocol.Error(string(sync.KindInvalidRequest), "You can only pull into your own notebooks.", s.cfg.Redirect.ErrorURL))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn("websocket upgrade failed", "user", req.Username, "error", err)
		return
	}
	if s.sockets != nil {
		s.sockets.SocketOpened()
		defer s.sockets.SocketClosed()
	}

	ws := &stream{
		conn:   conn,
		logger: s.logger.With("request_id", middleware.GetReqID(r.Context()), "sync_id", uuid.NewString(), "user", req.Username),
	}
	defer ws.close()
	go ws.drain()

	ws.logger.Info("sync started", "repo", req.Repo, "paths", req.Paths)
	outcome := s.syncer.Sync(r.Context(), req, func(snapshot string) {
		ws.send(protocol.Log(snapshot))
	})
	ws.send(protocol.FromOutcome(outcome))
	ws.logger.Info("sync finished", "outcome", outcome.Kind)
}

// stream serializes writes to one WebSocket connection
type stream struct {
	mu     gosync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
	broken bool
}

// send writes msg. After the first failed write further messages are
// dropped; the sync itself keeps running to completion.
func (s *stream) send(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.broken = true
		s.logger.Warn("client went away, dropping progress", "error", err)
	}
}

// drain consumes inbound frames so control messages are processed
func (s *stream) drain() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.broken {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteWait))
	}
	_ = s.conn.Close()
}

// statusFor maps a terminal outcome to the status of the JSON endpoint
func statusFor(outcome sync.Outcome) int {
	if outcome.Kind != sync.OutcomeError || outcome.Err == nil {
		return http.StatusOK
	}
	switch outcome.Err.Kind {
	case sync.KindInvalidRequest:
		return http.StatusBadRequest
	case sync.KindDomainNotAllowed, sync.KindFiletypeNotAllowed:
		return http.StatusForbidden
	case sync.KindPathNotFound, sync.KindRepositoryNotFound:
		return http.StatusNotFound
	case sync.KindMergeFailure:
		return http.StatusConflict
	case sync.KindRemoteUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
