package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
)

func listParams(r *http.Request) (cursor string, limit int) {
	cursor = r.URL.Query().Get("cursor")
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return cursor, limit
}

func (s *Server) handleCreateScheduledRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	var req struct {
		Input model.JobInput `json:"input"`
		RunAt time.Time      `json:"run_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	rule, err := s.ruleUC.CreateScheduledRule(r.Context(), projectID, req.Input, req.RunAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetScheduledRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	rule, err := s.ruleUC.GetScheduledRule(r.Context(), projectID, chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListScheduledRules(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	cursor, limit := listParams(r)
	rules, next, err := s.ruleUC.ListScheduledRules(r.Context(), projectID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "next_cursor": next})
}

func (s *Server) handleSetScheduledRuleDisabled(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	if err := s.ruleUC.SetScheduledRuleDisabled(r.Context(), projectID, chi.URLParam(r, "ruleID"), req.Disabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": req.Disabled})
}

func (s *Server) handleCreateRecurringRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	var req struct {
		Input model.JobInput `json:"input"`
		Cron  string         `json:"cron"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	rule, err := s.ruleUC.CreateRecurringRule(r.Context(), projectID, req.Input, req.Cron)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRecurringRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	rule, err := s.ruleUC.GetRecurringRule(r.Context(), projectID, chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListRecurringRules(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	cursor, limit := listParams(r)
	rules, next, err := s.ruleUC.ListRecurringRules(r.Context(), projectID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "next_cursor": next})
}

func (s *Server) handleSetRecurringRuleDisabled(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID) {
		return
	}
	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	if err := s.ruleUC.SetRecurringRuleDisabled(r.Context(), projectID, chi.URLParam(r, "ruleID"), req.Disabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": req.Disabled})
}
