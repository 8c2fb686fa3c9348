package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pubpipe/internal/logging"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

const (
	releaseVersionsPath = "/release-versions"
	paramID             = "id"
	requestTimeout      = 30 * time.Second
)

// AttemptReader reads publishing attempts.
type AttemptReader interface {
	GetLatest(ctx context.Context, releaseVersionID uuid.UUID) (*status.Attempt, error)
	History(ctx context.Context, releaseVersionID uuid.UUID) ([]*status.Attempt, error)
}

// Options configures the router.
type Options struct {
	Attempts AttemptReader
	Gatherer prometheus.Gatherer
	Checks   []stage.HealthChecker
	// Token, when set, is required as a bearer token on release version routes.
	Token  string
	Logger *slog.Logger
}

type handler struct {
	attempts AttemptReader
	checks   []stage.HealthChecker
	logger   *slog.Logger
}

// NewRouter returns the status API handler.
func NewRouter(opts Options) http.Handler {
	h := &handler{
		attempts: opts.Attempts,
		checks:   opts.Checks,
		logger:   logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route(releaseVersionsPath+"/{"+paramID+"}/attempts", func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))
		r.Get("/", h.handleHistory)
		r.Get("/latest", h.handleLatest)
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := FromHealth(stage.CheckAll(r.Context(), h.checks))
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.releaseVersionID(w, r)
	if !ok {
		return
	}
	att, err := h.attempts.GetLatest(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if att == nil {
		h.writeError(w, http.StatusNotFound, "no publishing attempt for release version")
		return
	}
	h.writeJSON(w, http.StatusOK, AttemptResponse{Attempt: FromAttempt(att)})
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.releaseVersionID(w, r)
	if !ok {
		return
	}
	attempts, err := h.attempts.History(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, AttemptListResponse{Attempts: FromAttempts(attempts)})
}

func (h *handler) releaseVersionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, paramID))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid release version id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, ErrorResponse{Error: message})
}

// Server runs the status API until its context is cancelled.
type Server struct {
	bind    string
	handler http.Handler
	logger  *slog.Logger
}

// NewServer builds a server listening on bind.
func NewServer(bind string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{bind: bind, handler: handler, logger: logging.NewComponentLogger(logger, "api-server")}
}

// Serve listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
