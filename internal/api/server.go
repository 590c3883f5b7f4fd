// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/account"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// JobService is the job surface the handlers call.
type JobService interface {
	CreateJob(ctx context.Context, caller harvest.Caller, spec harvest.JobSpec) (harvest.Job, error)
	GetJob(ctx context.Context, caller harvest.Caller, jobID string) (harvest.JobDetail, error)
	ListJobs(ctx context.Context, caller harvest.Caller) ([]harvest.Job, error)
	SelectQuestions(ctx context.Context, caller harvest.Caller, jobID string, ids []string) error
	SetQuestionSelected(ctx context.Context, caller harvest.Caller, questionID string, selected bool) (harvest.Question, error)
	GenerateAnswers(ctx context.Context, caller harvest.Caller, jobID string) (int, error)
	Generation(ctx context.Context, caller harvest.Caller, jobID string) (harvest.GenerationRun, error)
	Answers(ctx context.Context, caller harvest.Caller, jobID string) ([]harvest.AnswerDetail, error)
	Export(ctx context.Context, caller harvest.Caller, jobID string) (harvest.Document, error)
	Stats(ctx context.Context, caller harvest.Caller) (harvest.Stats, error)
	RecentActivity(ctx context.Context, caller harvest.Caller) ([]harvest.Job, error)
}

// AccountService is the account surface the handlers call.
type AccountService interface {
	Register(ctx context.Context, reg account.Registration) (account.Profile, error)
	Login(ctx context.Context, username, password string) (account.Session, error)
	Me(ctx context.Context, caller harvest.Caller) (account.Profile, error)
	SetAPIKey(ctx context.Context, caller harvest.Caller, key string) (account.Profile, error)
	DeleteAPIKey(ctx context.Context, caller harvest.Caller) (account.Profile, error)
	SetCredentials(ctx context.Context, caller harvest.Caller, creds harvest.Credentials) (account.Profile, error)
	DeleteCredentials(ctx context.Context, caller harvest.Caller) (account.Profile, error)
}

// TokenParser turns a bearer token into a caller.
type TokenParser interface {
	Parse(token string) (harvest.Caller, error)
}

// Deps wires the server collaborators.
type Deps struct {
	Jobs     JobService
	Accounts AccountService
	Tokens   TokenParser
	// Ready reports whether downstream dependencies can serve traffic. Nil means always ready.
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the job and account services.
type Server struct {
	router   chi.Router
	jobs     JobService
	accounts AccountService
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		jobs:     deps.Jobs,
		accounts: deps.Accounts,
		ready:    deps.Ready,
		logger:   logging.OrNop(deps.Logger).Named("api"),
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.register)
		r.Post("/auth/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(bearerMiddleware(deps.Tokens))

			r.Route("/me", func(r chi.Router) {
				r.Get("/", s.me)
				r.Get("/api-key", s.getAPIKey)
				r.Put("/api-key", s.putAPIKey)
				r.Delete("/api-key", s.deleteAPIKey)
				r.Put("/credentials", s.putCredentials)
				r.Delete("/credentials", s.deleteCredentials)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.createJob)
				r.Get("/", s.listJobs)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Use(canonicalParam("job_id", "job"))
					r.Get("/", s.getJob)
					r.Put("/selection", s.selectQuestions)
					r.Post("/answers", s.generateAnswers)
					r.Get("/answers", s.listAnswers)
					r.Get("/export", s.exportJob)
				})
			})
			r.With(canonicalParam("question_id", "question")).
				Post("/questions/{question_id}/select", s.selectQuestion)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", s.stats)
				r.Get("/activity", s.activity)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeJSON reads a bounded JSON body into dst. Decode failures are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return harvest.Validation("body", "request body is required")
		}
		return harvest.Validation("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// fail maps a service error onto a status code and a caller-safe message.
// Server-side failures are logged with their cause and reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var typed *harvest.Error
	if errors.As(err, &typed) {
		body.Field = typed.Field
		if typed.Message != "" {
			body.Error = typed.Message
		}
	}
	switch {
	case status == http.StatusBadGateway:
		body = errorBody{Error: "upstream service failed"}
	case status >= http.StatusInternalServerError:
		body = errorBody{Error: "internal server error"}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch harvest.KindOf(err) {
	case harvest.ErrValidation:
		return http.StatusBadRequest
	case harvest.ErrNotFound:
		return http.StatusNotFound
	case harvest.ErrConflict, harvest.ErrInvalidTransition:
		return http.StatusConflict
	case harvest.ErrUnauthorized:
		return http.StatusUnauthorized
	case harvest.ErrExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
