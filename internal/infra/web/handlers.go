package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
)

func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	var req struct {
		ConversationID string            `json:"conversation_id,omitempty"`
		Trigger        model.TriggerData `json:"trigger_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	turn, err := s.turnUC.CreateTurn(r.Context(), projectID, req.ConversationID, req.Trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, turn)
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	turn, err := s.turnUC.GetTurn(r.Context(), projectID, chi.URLParam(r, "turnID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleStopTurn(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	turn, err := s.turnUC.StopTurn(r.Context(), projectID, chi.URLParam(r, "turnID"), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleListConversation(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	turns, err := s.turnUC.ListConversation(r.Context(), projectID, chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// handleStreamTurn serves the turn's event stream over SSE. The `from`
// query parameter resumes mid-log, so a client that reconnects passes the
// count of messages it already has.
func (s *Server) handleStreamTurn(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	fromIndex := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		fromIndex = n
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := s.streamUC.Stream(r.Context(), projectID, chi.URLParam(r, "turnID"), fromIndex)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Error().Err(err).Msg("marshal stream event failed")
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
		flusher.Flush()
	}
	// Channel closed: terminal event, idle timeout, or client gone.
	fmt.Fprint(w, "event: close\ndata: {}\n\n")
	flusher.Flush()
}
