package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/account"
	"github.com/JakeFAU/qa-harvester/internal/auth"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type selectionRequest struct {
	QuestionIDs []string `json:"question_ids"`
}

type toggleRequest struct {
	Selected *bool `json:"selected"`
}

func callerOf(r *http.Request) harvest.Caller {
	caller, _ := auth.CallerFrom(r.Context())
	return caller
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req account.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	profile, err := s.accounts.Me(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) getAPIKey(w http.ResponseWriter, r *http.Request) {
	profile, err := s.accounts.Me(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_api_key":  profile.HasAPIKey,
		"api_key_hint": profile.APIKeyHint,
	})
}

func (s *Server) putAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.accounts.SetAPIKey(r.Context(), callerOf(r), req.APIKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	profile, err := s.accounts.DeleteAPIKey(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) putCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.accounts.SetCredentials(r.Context(), callerOf(r), harvest.Credentials{Email: req.Email, Secret: req.Password})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	profile, err := s.accounts.DeleteCredentials(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var spec harvest.JobSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.jobs.CreateJob(r.Context(), callerOf(r), spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	detail, err := s.jobs.GetJob(r.Context(), callerOf(r), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	detail.Questions = nonNil(detail.Questions)
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) selectQuestions(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.SelectQuestions(r.Context(), callerOf(r), jobID, req.QuestionIDs); err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.jobs.GetJob(r.Context(), callerOf(r), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	selected := 0
	for _, q := range detail.Questions {
		if q.Selected {
			selected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": selected, "questions": nonNil(detail.Questions)})
}

func (s *Server) selectQuestion(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Selected == nil {
		s.fail(w, r, harvest.Validation("selected", "selected is required"))
		return
	}
	q, err := s.jobs.SetQuestionSelected(r.Context(), callerOf(r), chi.URLParam(r, "question_id"), *req.Selected)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) generateAnswers(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	n, err := s.jobs.GenerateAnswers(r.Context(), callerOf(r), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+jobID+"/answers")
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "queued": n})
}

func (s *Server) listAnswers(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	answers, err := s.jobs.Answers(r.Context(), callerOf(r), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	run, err := s.jobs.Generation(r.Context(), callerOf(r), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": nonNil(answers), "generation": run})
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	doc, err := s.jobs.Export(r.Context(), callerOf(r), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	if doc.ArchiveURI != "" {
		w.Header().Set("X-Archive-URI", doc.ArchiveURI)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Data); err != nil {
		s.logger.Warn("write export failed", logging.JobID(chi.URLParam(r, "job_id")), zap.Error(err))
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.RecentActivity(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
