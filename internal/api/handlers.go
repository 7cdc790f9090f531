package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haroov/chocoflow/internal/models"
)

// TurnRequest is the body of POST /turn. Answer may be empty to request the
// current question without answering.
type TurnRequest struct {
	UserID string `json:"user_id"`
	Answer string `json:"answer"`
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.turnHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}

	result, err := s.processor.ProcessTurn(r.Context(), req.UserID, strings.TrimSpace(req.Answer))
	if err != nil {
		slog.Error("Server.turnHandler: turn failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}
	slog.Info("Server.turnHandler: turn processed", "userID", req.UserID, "kind", result.Kind)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) attachmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	items, err := s.processor.Attachments(r.Context(), userID)
	if err != nil {
		slog.Error("Server.attachmentsHandler: failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute attachments"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	progress, err := s.processor.UserProgress(r.Context(), userID)
	if err != nil {
		slog.Error("Server.progressHandler: failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute progress"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(progress))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
