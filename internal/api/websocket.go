package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 64 << 10
	wsIdleTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// wsMessage is a client frame on /agents/ws.
type wsMessage struct {
	Message string `json:"message"`
}

// checkOrigin accepts non-browser clients and same-origin browsers.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// wsHandler handles GET /agents/ws?user_id=...
// Each text frame {"message": "..."} is answered with one envelope frame.
// Frames are handled one at a time, so a user's turns stay ordered.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	userID := models.UserID(strings.TrimSpace(r.URL.Query().Get("user_id")))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.wsHandler: upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("Server.wsHandler: connected", "userID", userID)

	ctx := r.Context()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Server.wsHandler: read failed", "error", err, "userID", userID)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var response models.APIResponse
		var in wsMessage
		if err := json.Unmarshal(data, &in); err != nil {
			response = models.Error("Invalid JSON format")
		} else {
			s.metrics.ObserveChat("websocket")
			reply, err := s.agent.HandleMessage(ctx, userID, in.Message)
			if err != nil {
				slog.Error("Server.wsHandler: failed to handle message", "error", err, "userID", userID)
				_, response = agentErrorResponse(err)
			} else {
				response = models.Success(reply)
			}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(response); err != nil {
			slog.Debug("Server.wsHandler: write failed", "error", err, "userID", userID)
			break
		}
	}
	slog.Debug("Server.wsHandler: disconnected", "userID", userID)
}
