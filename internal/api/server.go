// Package api exposes the engine's HTTP surface: manual run triggers, run
// status reads, a websocket run feed, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sheetbridge/internal/dispatch"
	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/models"
)

type Server struct {
	dispatcher *dispatch.Dispatcher
	store      dispatch.RunStore
	source     dispatch.ConfigSource
	hub        *Hub
	httpServer *http.Server
	staleAfter staleFunc
	log        zerolog.Logger
}

// staleFunc reports whether a run should be presented as stale.
type staleFunc func(run *models.RunRecord) bool

func NewServer(dispatcher *dispatch.Dispatcher, store dispatch.RunStore,
	source dispatch.ConfigSource, jwtSecret string,
	port int, stale staleFunc, log zerolog.Logger) *Server {

	s := &Server{
		dispatcher: dispatcher,
		store:      store,
		source:     source,
		hub:        NewHub(),
		staleAfter: stale,
		log:        log,
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	auth := NewAuthMiddleware(jwtSecret)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.Middleware)
	v1.HandleFunc("/exports/{id}/run", s.handleRunExport).Methods(http.MethodPost)
	v1.HandleFunc("/exports/{id}/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{runId}", s.handleGetRun).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: r,
	}
	return s
}

// Start serves until the listener fails, pumping the websocket hub from the
// given context.
func (s *Server) Start(ctx context.Context, bus *eventbus.Bus) error {
	go s.hub.Run(ctx)
	go s.hub.FeedFrom(ctx, bus)
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// runRequestBody is the optional JSON body of a manual trigger.
type runRequestBody struct {
	RunID string `json:"run_id"`
}

// runView is the API shape of a run record, with staleness resolved for the
// reader.
type runView struct {
	*models.RunRecord
	EffectiveState models.RunState `json:"effective_state"`
}

func (s *Server) view(run *models.RunRecord) runView {
	state := run.State
	if s.staleAfter != nil && s.staleAfter(run) {
		state = models.RunStale
	}
	return runView{RunRecord: run, EffectiveState: state}
}

func (s *Server) handleRunExport(w http.ResponseWriter, r *http.Request) {
	configID := mux.Vars(r)["id"]
	if !s.authorizeConfig(w, r, configID) {
		return
	}

	var body runRequestBody
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	res, err := s.dispatcher.RunExport(r.Context(), configID, dispatch.RunRequest{
		RunID:   body.RunID,
		Trigger: models.TriggerManual,
	})
	switch {
	case errors.Is(err, dispatch.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, "not_found", "export configuration not found")
		return
	case err != nil:
		s.log.Error().Err(err).Str("config_id", configID).Msg("dispatch failed")
		writeError(w, http.StatusUnprocessableEntity, "dispatch_failed", err.Error())
		return
	}

	status := http.StatusAccepted
	if res.Cached || res.InProgress {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"run":         s.view(res.Run),
		"cached":      res.Cached,
		"in_progress": res.InProgress,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	run, err := s.store.Get(r.Context(), runID)
	if errors.Is(err, dispatch.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !s.authorizeConfig(w, r, run.ConfigID) {
		return
	}
	json.NewEncoder(w).Encode(s.view(run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	configID := mux.Vars(r)["id"]
	if !s.authorizeConfig(w, r, configID) {
		return
	}

	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	runs, err := s.store.ListByConfig(r.Context(), configID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, s.view(run))
	}
	json.NewEncoder(w).Encode(map[string]any{"runs": views})
}

// authorizeConfig rejects callers whose tenant does not own the config.
// A missing config falls through to the handler's own not-found path.
func (s *Server) authorizeConfig(w http.ResponseWriter, r *http.Request, configID string) bool {
	cfg, ok := s.source.Get(configID)
	if !ok {
		return true
	}
	if tenant := TenantIDFromContext(r.Context()); cfg.TenantID != "" && tenant != cfg.TenantID {
		writeError(w, http.StatusForbidden, "forbidden", "configuration belongs to another tenant")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
