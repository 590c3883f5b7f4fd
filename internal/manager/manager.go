// Package manager orchestrates jobs: it is the only component that moves a
// job through its status lifecycle, and it owns dispatch of the background
// scrape and generation stages.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/answer"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
	"github.com/JakeFAU/qa-harvester/internal/progress"
	"github.com/JakeFAU/qa-harvester/internal/validation"
)

// Answerer runs the generation pipeline over a batch of questions.
type Answerer interface {
	Run(ctx context.Context, jobID string, gen harvest.Generator, questions []harvest.Question) answer.Result
}

// Exporter renders a job's answers into a document.
type Exporter interface {
	Build(ctx context.Context, jobID string, details []harvest.AnswerDetail) (harvest.Document, error)
}

// Config wires the manager collaborators.
type Config struct {
	Store      harvest.Store
	Queue      harvest.TaskQueue
	Vault      harvest.Vault
	Scraper    harvest.Scraper
	Generators harvest.GeneratorFactory
	Answers    Answerer
	Exporter   Exporter
	IDs        harvest.IDGenerator
	Clock      harvest.Clock
	Emitter    progress.Emitter
	// ScraperName labels scrape metrics.
	ScraperName    string
	DefaultLimit   int
	MaxLimit       int
	EnqueueTimeout time.Duration
	Logger         *zap.Logger
}

// Manager implements the job operations and harvest.TaskHandler.
type Manager struct {
	cfg    Config
	store  harvest.Store
	logger *zap.Logger

	// genMu serializes the running-run check with the run write.
	genMu sync.Mutex
}

// New validates cfg and returns a Manager.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("manager: store is required")
	case cfg.Queue == nil:
		return nil, errors.New("manager: task queue is required")
	case cfg.Vault == nil:
		return nil, errors.New("manager: vault is required")
	case cfg.Scraper == nil:
		return nil, errors.New("manager: scraper is required")
	case cfg.Generators == nil:
		return nil, errors.New("manager: generator factory is required")
	case cfg.Answers == nil:
		return nil, errors.New("manager: answer pipeline is required")
	case cfg.Exporter == nil:
		return nil, errors.New("manager: exporter is required")
	case cfg.IDs == nil:
		return nil, errors.New("manager: id generator is required")
	case cfg.Clock == nil:
		return nil, errors.New("manager: clock is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop{}
	}
	if cfg.ScraperName == "" {
		cfg.ScraperName = "scraper"
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = min(20, cfg.MaxLimit)
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		store:  cfg.Store,
		logger: logging.OrNop(cfg.Logger).Named("manager"),
	}, nil
}

// CreateJob validates spec, persists a pending job and queues its scrape
// stage. The returned job is still pending; callers poll GetJob. A job whose
// scrape could not be queued is marked failed before the error is returned.
func (m *Manager) CreateJob(ctx context.Context, caller harvest.Caller, spec harvest.JobSpec) (harvest.Job, error) {
	if !caller.Known() {
		return harvest.Job{}, harvest.Unauthorized("authentication required")
	}
	spec = spec.Normalize()
	if spec.Limit == 0 {
		spec.Limit = m.cfg.DefaultLimit
	}
	if err := validation.Struct(spec); err != nil {
		return harvest.Job{}, err
	}
	if spec.Limit > m.cfg.MaxLimit {
		return harvest.Job{}, harvest.Validation("limit", fmt.Sprintf("limit must be <= %d", m.cfg.MaxLimit))
	}

	id, err := m.cfg.IDs.NewID()
	if err != nil {
		return harvest.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := harvest.Job{
		ID:         id,
		UserID:     caller.UserID,
		Topic:      spec.Topic,
		Keyword:    spec.Keyword,
		TimeFilter: spec.TimeFilter,
		Limit:      spec.Limit,
		Status:     harvest.JobStatusPending,
		CreatedAt:  m.cfg.Clock.Now(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return harvest.Job{}, storeErr("create job", err)
	}

	task := harvest.Task{Kind: harvest.TaskScrape, JobID: job.ID, UserID: job.UserID, Submitted: job.CreatedAt.UnixNano()}
	if err := m.enqueue(ctx, task); err != nil {
		m.failJob(ctx, job.ID, "could not queue scrape: "+err.Error())
		return harvest.Job{}, harvest.Persistence("enqueue scrape", err)
	}
	m.logger.Info("job created",
		logging.JobID(job.ID),
		logging.UserID(job.UserID),
		zap.String("topic", job.Topic),
		zap.Int("limit", job.Limit),
	)
	return job, nil
}

// GetJob returns a job owned by caller together with its questions and the
// latest generation run. Missing and foreign jobs are both ErrNotFound.
func (m *Manager) GetJob(ctx context.Context, caller harvest.Caller, jobID string) (harvest.JobDetail, error) {
	job, err := m.owned(ctx, caller, jobID)
	if err != nil {
		return harvest.JobDetail{}, err
	}
	questions, err := m.store.ListQuestions(ctx, job.ID)
	if err != nil {
		return harvest.JobDetail{}, storeErr("list questions", err)
	}
	detail := harvest.JobDetail{Job: job, Questions: questions}
	run, err := m.store.GetGenerationRun(ctx, job.ID)
	switch {
	case err == nil:
		detail.Generation = &run
	case !errors.Is(err, harvest.ErrNotFound):
		return harvest.JobDetail{}, storeErr("get generation run", err)
	}
	return detail, nil
}

// ListJobs returns the caller's jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, caller harvest.Caller) ([]harvest.Job, error) {
	if !caller.Known() {
		return nil, harvest.Unauthorized("authentication required")
	}
	jobs, err := m.store.ListJobs(ctx, caller.UserID)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	return jobs, nil
}

// SelectQuestions replaces the job's selection with exactly ids.
func (m *Manager) SelectQuestions(ctx context.Context, caller harvest.Caller, jobID string, ids []string) error {
	job, err := m.owned(ctx, caller, jobID)
	if err != nil {
		return err
	}
	if err := m.store.SelectQuestions(ctx, job.ID, dedupe(ids)); err != nil {
		return storeErr("select questions", err)
	}
	return nil
}

// SetQuestionSelected toggles one question of a job owned by caller.
func (m *Manager) SetQuestionSelected(
	ctx context.Context,
	caller harvest.Caller,
	questionID string,
	selected bool,
) (harvest.Question, error) {
	if !caller.Known() {
		return harvest.Question{}, harvest.Unauthorized("authentication required")
	}
	q, err := m.store.GetQuestion(ctx, questionID)
	if err != nil {
		return harvest.Question{}, storeErr("get question", err)
	}
	if _, err := m.owned(ctx, caller, q.JobID); err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return harvest.Question{}, harvest.NotFound("question", questionID)
		}
		return harvest.Question{}, err
	}
	if err := m.store.SetQuestionSelected(ctx, questionID, selected); err != nil {
		return harvest.Question{}, storeErr("set question selected", err)
	}
	q.Selected = selected
	return q, nil
}

// GenerateAnswers queues answer generation for the job's selected questions
// and returns how many were queued. Job status is not touched.
func (m *Manager) GenerateAnswers(ctx context.Context, caller harvest.Caller, jobID string) (int, error) {
	job, err := m.owned(ctx, caller, jobID)
	if err != nil {
		return 0, err
	}
	questions, err := m.store.ListQuestions(ctx, job.ID)
	if err != nil {
		return 0, storeErr("list questions", err)
	}
	var ids []string
	for _, q := range questions {
		if q.Selected {
			ids = append(ids, q.ID)
		}
	}
	if len(ids) == 0 {
		return 0, harvest.Validation("question_ids", "select at least one question")
	}

	m.genMu.Lock()
	defer m.genMu.Unlock()
	prev, err := m.store.GetGenerationRun(ctx, job.ID)
	switch {
	case err == nil && prev.Status == harvest.RunRunning:
		return 0, harvest.Conflict("answer generation is already running for this job")
	case err != nil && !errors.Is(err, harvest.ErrNotFound):
		return 0, storeErr("get generation run", err)
	}

	now := m.cfg.Clock.Now()
	run := harvest.GenerationRun{JobID: job.ID, Status: harvest.RunRunning, Requested: len(ids), StartedAt: now}
	if err := m.store.SaveGenerationRun(ctx, run); err != nil {
		return 0, storeErr("save generation run", err)
	}
	task := harvest.Task{
		Kind:        harvest.TaskGenerate,
		JobID:       job.ID,
		UserID:      job.UserID,
		QuestionIDs: ids,
		Submitted:   now.UnixNano(),
	}
	if err := m.enqueue(ctx, task); err != nil {
		m.finishRun(ctx, run, answer.Result{Failed: len(ids)})
		return 0, harvest.Persistence("enqueue generation", err)
	}
	m.logger.Info("answer generation queued", logging.JobID(job.ID), zap.Int("questions", len(ids)))
	return len(ids), nil
}

// Generation returns the latest generation run, or a not_started run when
// generation was never requested.
func (m *Manager) Generation(ctx context.Context, caller harvest.Caller, jobID string) (harvest.GenerationRun, error) {
	job, err := m.owned(ctx, caller, jobID)
	if err != nil {
		return harvest.GenerationRun{}, err
	}
	run, err := m.store.GetGenerationRun(ctx, job.ID)
	if errors.Is(err, harvest.ErrNotFound) {
		return harvest.GenerationRun{JobID: job.ID, Status: harvest.RunNotStarted}, nil
	}
	if err != nil {
		return harvest.GenerationRun{}, storeErr("get generation run", err)
	}
	return run, nil
}

// Answers returns the job's answers joined with their questions, in question order.
func (m *Manager) Answers(ctx context.Context, caller harvest.Caller, jobID string) ([]harvest.AnswerDetail, error) {
	job, err := m.owned(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	details, err := m.store.ListAnswers(ctx, job.ID)
	if err != nil {
		return nil, storeErr("list answers", err)
	}
	return details, nil
}

// Export renders the job's answers. A job without answers is a validation
// error; renderer failures are ErrExport.
func (m *Manager) Export(ctx context.Context, caller harvest.Caller, jobID string) (harvest.Document, error) {
	details, err := m.Answers(ctx, caller, jobID)
	if err != nil {
		return harvest.Document{}, err
	}
	doc, err := m.cfg.Exporter.Build(ctx, jobID, details)
	if err != nil {
		return harvest.Document{}, err
	}
	m.cfg.Emitter.Emit(progress.Event{
		JobID:  jobID,
		UserID: caller.UserID,
		TS:     m.cfg.Clock.Now(),
		Stage:  progress.StageExportDone,
		Count:  len(doc.Data),
		Note:   doc.ArchiveURI,
	})
	return doc, nil
}

// owned loads jobID and hides jobs the caller does not own.
func (m *Manager) owned(ctx context.Context, caller harvest.Caller, jobID string) (harvest.Job, error) {
	if !caller.Known() {
		return harvest.Job{}, harvest.Unauthorized("authentication required")
	}
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, harvest.ErrNotFound) || (err == nil && job.UserID != caller.UserID) {
		return harvest.Job{}, harvest.NotFound("job", jobID)
	}
	if err != nil {
		return harvest.Job{}, storeErr("get job", err)
	}
	return job, nil
}

func (m *Manager) enqueue(ctx context.Context, task harvest.Task) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.EnqueueTimeout)
	defer cancel()
	return m.cfg.Queue.Enqueue(ctx, task)
}

// storeErr keeps classified store errors and marks the rest as persistence failures.
func storeErr(op string, err error) error {
	if harvest.KindOf(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return harvest.Persistence(op, err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func recordJob(status harvest.JobStatus) {
	metrics.ObserveJob(string(status))
}
