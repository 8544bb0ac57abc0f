package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/usecase"
)

type Server struct {
	turnUC   usecase.TurnUseCase
	streamUC usecase.StreamUseCase
	ruleUC   usecase.RuleUseCase
	auth     *AuthManager
	apiKey   string
	log      *zerolog.Logger
}

func NewServer(
	turnUC usecase.TurnUseCase,
	streamUC usecase.StreamUseCase,
	ruleUC usecase.RuleUseCase,
	auth *AuthManager,
	apiKey string,
	log *zerolog.Logger,
) *Server {
	return &Server{
		turnUC:   turnUC,
		streamUC: streamUC,
		ruleUC:   ruleUC,
		auth:     auth,
		apiKey:   apiKey,
		log:      log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/auth/session", s.handleMintSession)

	r.Route("/api/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/turns", func(r chi.Router) {
			r.Post("/", s.handleCreateTurn)
			r.Get("/{turnID}", s.handleGetTurn)
			r.Get("/{turnID}/stream", s.handleStreamTurn)
			r.Post("/{turnID}/stop", s.handleStopTurn)
		})
		r.Get("/conversations/{conversationID}/turns", s.handleListConversation)

		r.Route("/scheduled-rules", func(r chi.Router) {
			r.Post("/", s.handleCreateScheduledRule)
			r.Get("/", s.handleListScheduledRules)
			r.Get("/{ruleID}", s.handleGetScheduledRule)
			r.Put("/{ruleID}/disabled", s.handleSetScheduledRuleDisabled)
		})
		r.Route("/recurring-rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRecurringRule)
			r.Get("/", s.handleListRecurringRules)
			r.Get("/{ruleID}", s.handleGetRecurringRule)
			r.Put("/{ruleID}/disabled", s.handleSetRecurringRuleDisabled)
		})
	})

	return r
}

// handleMintSession exchanges the engine API key for a project-scoped JWT.
func (s *Server) handleMintSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey    string `json:"api_key"`
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	if s.apiKey == "" || req.APIKey != s.apiKey || req.ProjectID == "" {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(req.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTurnNotRunnable):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// NewHTTPServer wraps the router with the usual production timeouts. Write
// timeout stays 0 because SSE responses are long-lived.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
