package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/infrastructure/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// ContextAPI is what the HTTP and gRPC surfaces need from the use case layer.
type ContextAPI interface {
	RepoMetadata(ctx context.Context, owner, repo string) (*entity.RepoMetadata, error)
	Profile(ctx context.Context, username string) (*entity.ProfileMetadata, error)
	BuildContext(ctx context.Context, owner, repo, query string) (*entity.RepoContext, error)
	ClearRepo(ctx context.Context, owner, repo string) (int64, error)
	Health(ctx context.Context) entity.CacheHealth
}

type httpHandler struct {
	api ContextAPI
	log logrus.FieldLogger
}

func NewRouter(api ContextAPI, log logrus.FieldLogger) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &httpHandler{api: api, log: log.WithField("component", "http")}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{username}", h.profile)
		r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
			r.Get("/", h.repo)
			r.Get("/context", h.repoContext)
			r.Delete("/cache", h.clearCache)
		})
	})
	return r
}

func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartHTTPServer serves until ctx is done, then shuts down gracefully.
func StartHTTPServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("[HTTP] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logrus.Info("[HTTP] context canceled, shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	health := h.api.Health(r.Context())
	status := http.StatusOK
	if !health.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *httpHandler) repo(w http.ResponseWriter, r *http.Request) {
	meta, err := h.api.RepoMetadata(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *httpHandler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.api.Profile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *httpHandler) repoContext(w http.ResponseWriter, r *http.Request) {
	rc, err := h.api.BuildContext(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (h *httpHandler) clearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.api.ClearRepo(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Removed: removed})
}

type clearResponse struct {
	Removed int64 `json:"removed"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *httpHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := h.log.WithFields(logrus.Fields{"request_id": requestIDFrom(r.Context()), "status": status})
	if status >= http.StatusInternalServerError {
		entry.Errorf("[HTTP] %s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		entry.Debugf("[HTTP] %s %s rejected: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestIDFrom(r.Context())})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey struct{}

// requestID propagates an inbound X-Request-ID or mints one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (h *httpHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("[HTTP] request served")
	})
}
