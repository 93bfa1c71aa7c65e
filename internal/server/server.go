// Package server exposes dice rolls and dispatcher turns over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmagent/internal/core"
	"dmagent/internal/dice"
	"dmagent/internal/repository"
	"dmagent/pkg/schema"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Server serves the HTTP API.
type Server struct {
	dispatcher *core.Dispatcher
	store      repository.SessionStore
	roller     *dice.Roller
	gatherer   prometheus.Gatherer
	logger     core.Logger
	locks      *keyedMutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a server. Sessions live in store; /v1/roll uses roller.
func New(d *core.Dispatcher, store repository.SessionStore, roller *dice.Roller, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		store:      store,
		roller:     roller,
		gatherer:   prometheus.DefaultGatherer,
		logger:     core.NewNopLogger(),
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/roll", s.roll)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Get("/{id}", s.getSession)
			r.Delete("/{id}", s.deleteSession)
			r.Post("/{id}/turns", s.postTurn)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RollRequest is the body of POST /v1/roll.
type RollRequest struct {
	Text string `json:"text"`
}

// RollResponse describes an evaluated roll.
type RollResponse struct {
	Text       string          `json:"text"`
	Expression dice.Expression `json:"expression"`
	Result     dice.Result     `json:"result"`
	BestEffort bool            `json:"best_effort"`
}

func (s *Server) roll(w http.ResponseWriter, r *http.Request) {
	var req RollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	expr, parseErr := dice.Parse(req.Text)
	res, err := s.roller.Roll(expr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RollResponse{
		Text:       dice.Format(expr, res),
		Expression: expr,
		Result:     res,
		BestEffort: parseErr != nil,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	state, err := core.NewSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session id")
		return
	}
	if err := s.store.Save(r.Context(), state); err != nil {
		s.logger.Error("save session failed", "session_id", state.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := repository.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.store.Delete(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.Error("delete session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// TurnRequest is the body of POST /v1/sessions/{id}/turns.
type TurnRequest struct {
	Input string `json:"input"`
}

// TurnResponse reports one dispatcher turn.
type TurnResponse struct {
	SessionID     string           `json:"session_id"`
	Outcome       core.TurnOutcome `json:"outcome"`
	Hops          int              `json:"hops"`
	Messages      []schema.Message `json:"messages"`
	RoutingTarget schema.Target    `json:"routing_target"`
	Error         string           `json:"error,omitempty"`
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := repository.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// one turn at a time per session
	unlock := s.locks.Lock(id)
	defer unlock()

	state, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	next, res := s.dispatcher.RunTurn(r.Context(), state, req.Input)

	resp := TurnResponse{
		SessionID:     next.ID,
		Outcome:       res.Outcome,
		Hops:          res.Hops,
		Messages:      res.NewMessages,
		RoutingTarget: next.RoutingTarget,
	}
	if resp.Messages == nil {
		resp.Messages = []schema.Message{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	if next != state {
		if err := s.store.Save(r.Context(), next); err != nil {
			s.logger.Error("save session failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save session")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*core.SessionState, bool) {
	id := chi.URLParam(r, "id")
	if err := repository.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	state, err := s.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	case err != nil:
		s.logger.Error("load session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return state, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
