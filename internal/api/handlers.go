// Package api provides HTTP handlers for ReplyPipe admin endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// DefaultAuditLimit caps the audit listing when no limit parameter is given.
const DefaultAuditLimit = 100

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Snapshot()
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"connected":            s.msgService.IsConnected(),
		"autoResponderEnabled": cfg.AutoResponderEnabled,
		"faqCategory":          cfg.FAQCategory,
		"businessName":         cfg.BusinessName,
	}))
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: body"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), canonicalTo, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent successfully", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

type autoResponderRequest struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	FAQCategory  *string `json:"faqCategory,omitempty"`
	BusinessName *string `json:"businessName,omitempty"`
}

func (s *Server) autoResponderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.cfg.Snapshot()))
	case http.MethodPost:
		var req autoResponderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.autoResponderHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if req.Enabled == nil && req.FAQCategory == nil && req.BusinessName == nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("No fields to update"))
			return
		}
		if req.Enabled != nil {
			if err := s.cfg.SetAutoResponderEnabled(*req.Enabled); err != nil {
				slog.Error("Server.autoResponderHandler: failed to update enabled flag", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist configuration"))
				return
			}
		}
		if req.FAQCategory != nil {
			if err := s.cfg.SetFAQCategory(*req.FAQCategory); err != nil {
				slog.Error("Server.autoResponderHandler: failed to update FAQ category", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist configuration"))
				return
			}
		}
		if req.BusinessName != nil {
			if err := s.cfg.SetBusinessName(*req.BusinessName); err != nil {
				slog.Error("Server.autoResponderHandler: failed to update business name", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist configuration"))
				return
			}
		}
		slog.Info("Server.autoResponderHandler: configuration updated")
		writeJSONResponse(w, http.StatusOK, models.Success(s.cfg.Snapshot()))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) pendingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var (
		questions []models.PendingQuestion
		err       error
	)
	if r.URL.Query().Get("status") == string(models.PendingStatusPending) {
		questions, err = s.pendings.ListPending()
	} else {
		questions, err = s.pendings.List()
	}
	if err != nil {
		slog.Error("Server.pendingHandler: failed to list pending questions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list pending questions"))
		return
	}
	if questions == nil {
		questions = []models.PendingQuestion{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(questions))
}

type promoteRequest struct {
	ID string `json:"id"`
}

func (s *Server) promoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.promoteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: id"))
		return
	}

	err := s.pendings.PromoteToFAQ(req.ID)
	switch {
	case err == nil:
		slog.Info("Server.promoteHandler: promoted pending question to FAQ", "id", req.ID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Question promoted to FAQ", nil))
	case errors.Is(err, models.ErrPendingNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Pending question not found"))
	case errors.Is(err, models.ErrNoOperatorResponse):
		writeJSONResponse(w, http.StatusConflict, models.Error("Question has no operator response to promote"))
	case errors.Is(err, models.ErrBackwardTransition):
		writeJSONResponse(w, http.StatusConflict, models.Error("Question was already promoted"))
	default:
		slog.Error("Server.promoteHandler: failed to promote question", "error", err, "id", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to promote question"))
	}
}

func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := DefaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = parsed
	}

	records, err := s.audit.ListAuditRecords(limit)
	if err != nil {
		slog.Error("Server.auditHandler: failed to list audit records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list audit records"))
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}
