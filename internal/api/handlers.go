package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/go-chi/chi/v5"
)

// Capabilities lists the health domains the agent covers.
var Capabilities = []string{
	"mental_health",
	"sleep",
	"nutrition",
	"exercise",
	"symptoms",
	"general_health",
}

// AgentHealth is the result of GET /agents/health.
type AgentHealth struct {
	Status       string           `json:"status"`
	Service      string           `json:"service"`
	Mode         models.ReplyType `json:"mode"`
	Capabilities []string         `json:"capabilities"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

func userIDParam(r *http.Request) models.UserID {
	return models.UserID(strings.TrimSpace(chi.URLParam(r, "userID")))
}

// chatHandler handles POST /agents/chat
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.metrics.ObserveChat("http")

	reply, err := s.agent.HandleMessage(r.Context(), req.UserID, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: failed to handle message", "error", err, "userID", req.UserID)
		writeAgentError(w, err)
		return
	}
	slog.Debug("Server.chatHandler: replied", "userID", req.UserID, "type", reply.Type)
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// getConversationHandler handles GET /agents/conversation/{userID}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}

	history, err := s.agent.GetHistory(r.Context(), userID)
	if err != nil {
		slog.Error("Server.getConversationHandler: failed to get history", "error", err, "userID", userID)
		writeAgentError(w, err)
		return
	}
	if history == nil {
		history = []models.Turn{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ConversationHistoryResponse{
		UserID:              userID,
		ConversationHistory: history,
		TotalMessages:       len(history),
	}))
}

// clearConversationHandler handles DELETE /agents/conversation/{userID}
func (s *Server) clearConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}

	if err := s.agent.ClearHistory(r.Context(), userID); err != nil {
		slog.Error("Server.clearConversationHandler: failed to clear history", "error", err, "userID", userID)
		writeAgentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(
		fmt.Sprintf("Historique de conversation effacé pour l'utilisateur %s", userID), nil))
}

// setProfileHandler handles PUT /agents/profile/{userID}
func (s *Server) setProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}
	var profile models.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		slog.Warn("Server.setProfileHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.agent.SetProfile(r.Context(), userID, profile); err != nil {
		slog.Error("Server.setProfileHandler: failed to set profile", "error", err, "userID", userID)
		writeAgentError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Profile updated", profile))
}

// agentHealthHandler handles GET /agents/health
func (s *Server) agentHealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(AgentHealth{
		Status:       "healthy",
		Service:      "Health Agent",
		Mode:         s.agent.ReplyType(),
		Capabilities: Capabilities,
	}))
}

// healthzHandler handles GET /healthz
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
