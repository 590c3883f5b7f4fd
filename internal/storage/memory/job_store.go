// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// Store implements harvest.Store in process memory. Every method takes the one
// mutex, so multi-row operations are atomic with respect to readers.
type Store struct {
	mu        sync.RWMutex
	users     map[string]harvest.User
	usernames map[string]string
	jobs      map[string]harvest.Job
	questions map[string]harvest.Question
	// jobQuestions keeps question ids per job in insertion order.
	jobQuestions map[string][]string
	answers      map[string]harvest.Answer
	runs         map[string]harvest.GenerationRun
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:        make(map[string]harvest.User),
		usernames:    make(map[string]string),
		jobs:         make(map[string]harvest.Job),
		questions:    make(map[string]harvest.Question),
		jobQuestions: make(map[string][]string),
		answers:      make(map[string]harvest.Answer),
		runs:         make(map[string]harvest.GenerationRun),
	}
}

// Close implements harvest.Store; it performs no action.
func (s *Store) Close() {}

// CreateUser stores a new account.
func (s *Store) CreateUser(_ context.Context, user harvest.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usernames[user.Username]; exists {
		return harvest.Conflict("username already taken")
	}
	if _, exists := s.users[user.ID]; exists {
		return harvest.Conflict("user already exists")
	}
	s.users[user.ID] = user
	s.usernames[user.Username] = user.ID
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(_ context.Context, userID string) (harvest.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return harvest.User{}, harvest.NotFound("user", userID)
	}
	return user, nil
}

// GetUserByUsername fetches a user by login name.
func (s *Store) GetUserByUsername(_ context.Context, username string) (harvest.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return harvest.User{}, harvest.NotFound("user", username)
	}
	return s.users[id], nil
}

// UpdateAPIKey replaces the stored AI-service key; empty clears it.
func (s *Store) UpdateAPIKey(_ context.Context, userID, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return harvest.NotFound("user", userID)
	}
	user.APIKey = apiKey
	s.users[userID] = user
	return nil
}

// UpdateCredentials replaces the encrypted credential pair.
func (s *Store) UpdateCredentials(_ context.Context, userID, encryptedEmail, encryptedSecret string) error {
	if (encryptedEmail == "") != (encryptedSecret == "") {
		return harvest.Validation("credentials", "encrypted credentials must be set together")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return harvest.NotFound("user", userID)
	}
	user.EncryptedEmail = encryptedEmail
	user.EncryptedSecret = encryptedSecret
	s.users[userID] = user
	return nil
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return harvest.Conflict("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.NotFound("job", jobID)
	}
	return job, nil
}

// ListJobs returns the user's jobs, newest first.
func (s *Store) ListJobs(_ context.Context, userID string) ([]harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionJob moves a job forward in the state machine.
func (s *Store) TransitionJob(
	_ context.Context,
	jobID string,
	status harvest.JobStatus,
	errText string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(jobID, status, errText, at)
}

func (s *Store) transitionLocked(jobID string, status harvest.JobStatus, errText string, at time.Time) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.NotFound("job", jobID)
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("job %s %s -> %s: %w", jobID, job.Status, status, harvest.ErrInvalidTransition)
	}
	job.Status = status
	job.ErrorText = errText
	if status == harvest.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = pointerTime(at)
	}
	if status.Terminal() {
		job.FinishedAt = pointerTime(at)
	}
	s.jobs[jobID] = job
	return nil
}

// CompleteScrape inserts the questions and marks the job completed together.
func (s *Store) CompleteScrape(_ context.Context, jobID string, questions []harvest.Question, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.NotFound("job", jobID)
	}
	if !job.Status.CanTransition(harvest.JobStatusCompleted) {
		return fmt.Errorf("job %s %s -> completed: %w", jobID, job.Status, harvest.ErrInvalidTransition)
	}
	for _, q := range questions {
		if q.JobID != jobID {
			return harvest.Validation("job_id", "question does not belong to job")
		}
		if _, exists := s.questions[q.ID]; exists {
			return harvest.Conflict("question already exists")
		}
	}
	for _, q := range questions {
		s.questions[q.ID] = q
		s.jobQuestions[jobID] = append(s.jobQuestions[jobID], q.ID)
	}
	return s.transitionLocked(jobID, harvest.JobStatusCompleted, "", at)
}

// ListQuestions returns a job's questions in insertion order.
func (s *Store) ListQuestions(_ context.Context, jobID string) ([]harvest.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLocked(jobID), nil
}

func (s *Store) questionsLocked(jobID string) []harvest.Question {
	ids := s.jobQuestions[jobID]
	out := make([]harvest.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.questions[id])
	}
	return out
}

// GetQuestion fetches a question by ID.
func (s *Store) GetQuestion(_ context.Context, questionID string) (harvest.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return harvest.Question{}, harvest.NotFound("question", questionID)
	}
	return q, nil
}

// SelectQuestions replaces the job's selection with exactly ids.
func (s *Store) SelectQuestions(_ context.Context, jobID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return harvest.NotFound("job", jobID)
	}
	owned := s.jobQuestions[jobID]
	for _, id := range ids {
		if !slices.Contains(owned, id) {
			return harvest.Validation("question_ids", fmt.Sprintf("question %s does not belong to job", id))
		}
	}
	for _, id := range owned {
		q := s.questions[id]
		q.Selected = slices.Contains(ids, id)
		s.questions[id] = q
	}
	return nil
}

// SetQuestionSelected toggles one question.
func (s *Store) SetQuestionSelected(_ context.Context, questionID string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return harvest.NotFound("question", questionID)
	}
	q.Selected = selected
	s.questions[questionID] = q
	return nil
}

// UpsertAnswer replaces any existing answer for the question.
func (s *Store) UpsertAnswer(_ context.Context, answer harvest.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[answer.QuestionID]; !ok {
		return harvest.NotFound("question", answer.QuestionID)
	}
	delete(s.answers, answer.QuestionID)
	s.answers[answer.QuestionID] = answer
	return nil
}

// ListAnswers returns the job's answers joined with their questions, in question order.
func (s *Store) ListAnswers(_ context.Context, jobID string) ([]harvest.AnswerDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.AnswerDetail
	for _, q := range s.questionsLocked(jobID) {
		if a, ok := s.answers[q.ID]; ok {
			out = append(out, harvest.AnswerDetail{Answer: a, Question: q})
		}
	}
	return out, nil
}

// SaveGenerationRun records the latest generation run for a job.
func (s *Store) SaveGenerationRun(_ context.Context, run harvest.GenerationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[run.JobID]; !ok {
		return harvest.NotFound("job", run.JobID)
	}
	s.runs[run.JobID] = run
	return nil
}

// GetGenerationRun fetches the latest generation run for a job.
func (s *Store) GetGenerationRun(_ context.Context, jobID string) (harvest.GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[jobID]
	if !ok {
		return harvest.GenerationRun{}, harvest.NotFound("generation run", jobID)
	}
	return run, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
