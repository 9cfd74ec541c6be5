// Package api is the HTTP surface of the scaffolder.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/brief"
	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/orchestrator"
	"github.com/example/site-scaffolder/internal/relay"
	"github.com/example/site-scaffolder/internal/store"
)

const (
	userHeader   = "X-User-ID"
	maxBodyBytes = 32 << 20
)

type Deps struct {
	Completion     *completion.Client
	Orchestrator   *orchestrator.Orchestrator
	Store          *store.Store
	Hub            *relay.Hub
	AllowedOrigins []string
	BriefLimits    brief.Limits
	Logger         *zap.Logger
}

type Server struct {
	completion  *completion.Client
	orch        *orchestrator.Orchestrator
	store       *store.Store
	hub         *relay.Hub
	relay       *relay.Handler
	briefLimits brief.Limits
	logger      *zap.Logger
	handler     http.Handler
}

func NewServer(d Deps) *Server {
	logger := logging.OrNop(d.Logger)
	hub := d.Hub
	if hub == nil {
		hub = relay.NewHub(logger)
	}
	s := &Server{
		completion:  d.Completion,
		orch:        d.Orchestrator,
		store:       d.Store,
		hub:         hub,
		relay:       relay.NewHandler(hub, d.AllowedOrigins, logger),
		briefLimits: d.BriefLimits,
		logger:      logger,
	}
	c := cors.New(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", userHeader},
		ExposedHeaders: []string{streamStatusHeader},
	})
	s.handler = c.Handler(s.routes())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/ai", func(r chi.Router) {
		r.Post("/template", s.handleTemplate)
		r.Post("/chat", s.handleChat)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessionList)
		r.Post("/", s.handleSessionStart)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSessionGet)
			r.Post("/prompt", s.handleSessionPrompt)
			r.Post("/steps/{stepID}/complete", s.handleStepComplete)
			r.Get("/mount", s.handleSessionMount)
			r.Get("/download", s.handleSessionDownload)
		})
	})

	r.Route("/projects", func(r chi.Router) {
		r.Post("/create", s.handleProjectCreate)
		r.Get("/all", s.handleProjectList)
		r.Put("/add-user", s.handleProjectAddUsers)
		r.Get("/get-project/{projectID}", s.handleProjectGet)
	})

	r.Get("/ws/projects/{projectID}", func(w http.ResponseWriter, r *http.Request) {
		s.relay.Serve(w, r, chi.URLParam(r, "projectID"))
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// userID is the caller's identity. Authentication happens in front of this
// service; only the forwarded header is read here.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalid):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrDuplicateName):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("store failure", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
