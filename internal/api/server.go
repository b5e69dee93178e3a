// Package api serves flow history and health over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/store"
	"github.com/ggonzalez94/vaultflow/internal/version"
)

// FlowReader is the read side of the flow store.
type FlowReader interface {
	Get(id string) (flow.State, error)
	List(f store.Filter) ([]flow.State, error)
}

type Server struct {
	flows   FlowReader
	metrics http.Handler
	logger  *slog.Logger
	started time.Time
}

// NewHandler builds the router. metrics may be nil.
func NewHandler(flows FlowReader, metrics http.Handler, logger *slog.Logger) http.Handler {
	s := &Server{flows: flows, metrics: metrics, logger: logger, started: time.Now()}
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Route("/flows", func(r chi.Router) {
		r.Get("/", s.listFlows)
		r.Get("/{id}", s.getFlow)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        version.CLIVersion,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Kind:  flow.Kind(q.Get("kind")),
		Step:  flow.Step(q.Get("step")),
		Owner: q.Get("owner"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}
	switch filter.Kind {
	case "", flow.KindDeposit, flow.KindWithdraw:
	default:
		s.writeError(w, http.StatusBadRequest, "kind must be deposit or withdraw")
		return
	}
	flows, err := s.flows.List(filter)
	if err != nil {
		s.logger.Error("list flows", "err", err)
		s.writeError(w, http.StatusInternalServerError, "could not list flows")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.flows.Get(id)
	if err != nil {
		if clierr.CodeOf(err) == clierr.CodeUsage {
			s.writeError(w, http.StatusNotFound, "flow not found")
			return
		}
		s.logger.Error("get flow", "flow_id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "could not read flow")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "err", err)
	}
}
