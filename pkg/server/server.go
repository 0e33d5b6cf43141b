// Package server exposes a host over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/stagehand/pkg/host"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

const maxBodySize = 10 << 20

type Server struct {
	host            *host.Host
	gatherer        prometheus.Gatherer
	shutdownTimeout time.Duration
	router          chi.Router
}

type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func New(h *host.Host, options ...Option) *Server {
	s := &Server{
		host:            h,
		gatherer:        prometheus.DefaultGatherer,
		shutdownTimeout: 10 * time.Second,
	}
	for _, o := range options {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1/processors", func(r chi.Router) {
		r.Get("/", s.handleList)
		// identities contain slashes, e.g. replicate/generic
		r.Get("/*", s.handleDescribe)
		r.Post("/*", s.handleInvoke)
	})
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("Starting processor server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down processor server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

type invokeRequest struct {
	SessionID string                 `json:"session_id,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Input     map[string]interface{} `json:"input"`
}

type invokeResponse struct {
	InvocationID string                 `json:"invocation_id"`
	Identity     string                 `json:"identity"`
	SessionID    string                 `json:"session_id,omitempty"`
	Output       map[string]interface{} `json:"output"`
	DurationMs   int64                  `json:"duration_ms"`
}

type errorBody struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"processors": s.host.List()})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := s.host.Describe(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleInvoke serves POST /v1/processors/{identity}/invoke.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := trimInvoke(chi.URLParam(r, "*"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "could not read request body"})
		return
	}
	req := invokeRequest{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeErrorBody(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
			return
		}
	}

	res, err := s.host.Invoke(r.Context(), host.Request{
		Identity:  identity,
		SessionID: req.SessionID,
		Config:    req.Config,
		Input:     req.Input,
	})
	if err != nil {
		log.Debug().Err(err).
			Str("identity", identity).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Invocation failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		InvocationID: res.InvocationID,
		Identity:     res.Identity,
		SessionID:    res.SessionID,
		Output:       res.VisibleOutput(),
		DurationMs:   res.Duration.Milliseconds(),
	})
}

func trimInvoke(path string) (string, bool) {
	const suffix = "/invoke"
	if len(path) <= len(suffix) || path[len(path)-len(suffix):] != suffix {
		return "", false
	}
	return path[:len(path)-len(suffix)], true
}

// StatusCode maps an invocation error to an HTTP status code.
func StatusCode(err error) int {
	switch host.Outcome(err) {
	case "success":
		return http.StatusOK
	case "invalid", "missing_capability":
		return http.StatusBadRequest
	case "unknown_processor":
		return http.StatusNotFound
	case "session_conflict":
		return http.StatusConflict
	case "external_call_failed":
		return http.StatusBadGateway
	case "canceled":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: host.Outcome(err), Message: err.Error()}
	var verr *schema.ValidationError
	if body.Code == "invalid" && errors.As(err, &verr) {
		body.Violations = verr.Violations
	}
	writeErrorBody(w, StatusCode(err), body)
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Could not encode response")
	}
}
