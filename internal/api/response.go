package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding error can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// agentErrorResponse maps an agent error to a status code and a message safe
// to show to clients.
func agentErrorResponse(err error) (int, models.APIResponse) {
	switch {
	case errors.Is(err, models.ErrEmptyUserID), errors.Is(err, models.ErrEmptyMessage):
		return http.StatusBadRequest, models.Error(err.Error())
	case errors.Is(err, agent.ErrProcessing):
		return http.StatusServiceUnavailable, models.Error("Service temporarily unavailable, please retry later")
	default:
		return http.StatusInternalServerError, models.Error("Internal server error")
	}
}

func writeAgentError(w http.ResponseWriter, err error) {
	status, response := agentErrorResponse(err)
	writeJSONResponse(w, status, response)
}
