package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/answer"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
	"github.com/JakeFAU/qa-harvester/internal/progress"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
	"github.com/JakeFAU/qa-harvester/internal/vault"
)

// settleTimeout bounds the status writes made after a stage context ended.
const settleTimeout = 5 * time.Second

// HandleTask implements harvest.TaskHandler. Stage failures are recorded on
// the job or generation run and also returned so workers can count them.
func (m *Manager) HandleTask(ctx context.Context, task harvest.Task) error {
	switch task.Kind {
	case harvest.TaskScrape:
		return m.scrape(ctx, task)
	case harvest.TaskGenerate:
		return m.generate(ctx, task)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (m *Manager) scrape(ctx context.Context, task harvest.Task) error {
	job, err := m.store.GetJob(ctx, task.JobID)
	if err != nil {
		return storeErr("get job", err)
	}
	start := m.cfg.Clock.Now()
	if err := m.store.TransitionJob(ctx, job.ID, harvest.JobStatusProcessing, "", start); err != nil {
		// Another worker or a shutdown already settled this job.
		return storeErr("start scrape", err)
	}
	m.cfg.Emitter.Emit(progress.Event{JobID: job.ID, UserID: job.UserID, TS: start, Stage: progress.StageScrapeStart})

	questions, err := m.runScrape(ctx, job)
	if err != nil {
		m.logger.Warn("scrape failed",
			logging.JobID(job.ID),
			zap.String("cause", failureKind(err)),
			zap.Error(err),
		)
		m.failJob(ctx, job.ID, failureText(err))
		m.cfg.Emitter.Emit(progress.Event{
			JobID:  job.ID,
			UserID: job.UserID,
			TS:     m.cfg.Clock.Now(),
			Stage:  progress.StageScrapeError,
			Dur:    elapsed(start, m.cfg.Clock.Now()),
			Note:   failureKind(err),
		})
		return err
	}

	recordJob(harvest.JobStatusCompleted)
	metrics.ObserveQuestionsScraped(m.cfg.ScraperName, len(questions))
	m.cfg.Emitter.Emit(progress.Event{
		JobID:  job.ID,
		UserID: job.UserID,
		TS:     m.cfg.Clock.Now(),
		Stage:  progress.StageScrapeDone,
		Count:  len(questions),
		Dur:    elapsed(start, m.cfg.Clock.Now()),
	})
	m.logger.Info("scrape completed", logging.JobID(job.ID), zap.Int("questions", len(questions)))
	return nil
}

// runScrape collects and stores the job's questions. A panic in a
// collaborator becomes a stage failure so the job still settles.
func (m *Manager) runScrape(ctx context.Context, job harvest.Job) (questions []harvest.Question, err error) {
	defer func() {
		if r := recover(); r != nil {
			questions, err = nil, harvest.External("scrape", fmt.Errorf("%w: %v", errStagePanic, r))
		}
	}()
	questions, err = m.collect(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := m.store.CompleteScrape(ctx, job.ID, questions, m.cfg.Clock.Now()); err != nil {
		return nil, storeErr("save questions", err)
	}
	return questions, nil
}

// collect runs the scraper for job and turns its output into questions.
func (m *Manager) collect(ctx context.Context, job harvest.Job) ([]harvest.Question, error) {
	user, err := m.store.GetUser(ctx, job.UserID)
	if err != nil {
		return nil, storeErr("get user", err)
	}
	creds, err := vault.DecryptPair(m.cfg.Vault, user)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	raw, err := m.cfg.Scraper.Scrape(ctx, harvest.ScrapeParams{
		JobID:       job.ID,
		Topic:       job.Topic,
		Keyword:     job.Keyword,
		TimeFilter:  job.TimeFilter,
		Limit:       job.Limit,
		Credentials: creds,
	})
	if err != nil {
		return nil, harvest.External("scrape", err)
	}
	pairs, err := scraper.Finalize(raw, job.Limit)
	if err != nil {
		return nil, harvest.External("scrape", err)
	}
	now := m.cfg.Clock.Now()
	questions := make([]harvest.Question, 0, len(pairs))
	for _, p := range pairs {
		id, err := m.cfg.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("question id: %w", err)
		}
		questions = append(questions, harvest.Question{
			ID:        id,
			JobID:     job.ID,
			Text:      p.Question,
			Link:      p.Link,
			CreatedAt: now,
		})
	}
	return questions, nil
}

func (m *Manager) generate(ctx context.Context, task harvest.Task) error {
	run, err := m.store.GetGenerationRun(ctx, task.JobID)
	if err != nil {
		// Settle a stand-in so the job is not locked out of new runs.
		m.finishRun(ctx, m.fallbackRun(task), answer.Result{Failed: len(task.QuestionIDs)})
		return storeErr("get generation run", err)
	}
	return m.runGeneration(ctx, task, run)
}

// runGeneration answers the task's questions and finalizes run. A panic in a
// collaborator finalizes the run with every item failed.
func (m *Manager) runGeneration(ctx context.Context, task harvest.Task, run harvest.GenerationRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("answer generation panicked", logging.JobID(task.JobID), zap.Any("panic", r))
			m.finishRun(ctx, run, answer.Result{Failed: len(task.QuestionIDs)})
			err = harvest.External("generate answers", fmt.Errorf("%w: %v", errStagePanic, r))
		}
	}()

	questions, err := m.taskQuestions(ctx, task)
	if err != nil {
		m.finishRun(ctx, run, answer.Result{Failed: len(task.QuestionIDs)})
		return err
	}
	user, err := m.store.GetUser(ctx, task.UserID)
	if err != nil {
		m.finishRun(ctx, run, answer.Result{Failed: len(questions)})
		return storeErr("get user", err)
	}
	m.cfg.Emitter.Emit(progress.Event{
		JobID:  task.JobID,
		UserID: task.UserID,
		TS:     m.cfg.Clock.Now(),
		Stage:  progress.StageGenerateStart,
		Count:  len(questions),
	})
	gen, err := m.cfg.Generators.ForUser(ctx, user)
	if err != nil {
		m.logger.Warn("generator unavailable", logging.JobID(task.JobID), zap.Error(err))
		m.finishRun(ctx, run, answer.Result{Failed: len(questions)})
		return err
	}
	res := m.cfg.Answers.Run(ctx, task.JobID, gen, questions)
	m.finishRun(ctx, run, res)
	m.logger.Info("answer generation finished",
		logging.JobID(task.JobID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return nil
}

// fallbackRun rebuilds the running record for task when it cannot be loaded.
func (m *Manager) fallbackRun(task harvest.Task) harvest.GenerationRun {
	started := m.cfg.Clock.Now()
	if task.Submitted > 0 {
		started = time.Unix(0, task.Submitted).UTC()
	}
	return harvest.GenerationRun{
		JobID:     task.JobID,
		Status:    harvest.RunRunning,
		Requested: len(task.QuestionIDs),
		StartedAt: started,
	}
}

// taskQuestions loads the task's questions in persisted order.
func (m *Manager) taskQuestions(ctx context.Context, task harvest.Task) ([]harvest.Question, error) {
	all, err := m.store.ListQuestions(ctx, task.JobID)
	if err != nil {
		return nil, storeErr("list questions", err)
	}
	out := make([]harvest.Question, 0, len(task.QuestionIDs))
	for _, q := range all {
		if slices.Contains(task.QuestionIDs, q.ID) {
			out = append(out, q)
		}
	}
	return out, nil
}

// finishRun records the outcome of a generation run and emits GENERATE_DONE.
func (m *Manager) finishRun(ctx context.Context, run harvest.GenerationRun, res answer.Result) {
	now := m.cfg.Clock.Now()
	run.Succeeded = res.Succeeded
	run.Failed = res.Failed
	run.FinishedAt = &now
	run.Status = harvest.RunCompleted
	if res.Failed > 0 {
		run.Status = harvest.RunCompletedWithErrors
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := m.store.SaveGenerationRun(sctx, run); err != nil {
		m.logger.Error("save generation run", logging.JobID(run.JobID), zap.Error(err))
	}
	m.cfg.Emitter.Emit(progress.Event{
		JobID:  run.JobID,
		TS:     now,
		Stage:  progress.StageGenerateDone,
		Count:  res.Succeeded,
		Failed: res.Failed,
		Dur:    elapsed(run.StartedAt, now),
		Note:   string(run.Status),
	})
}

// failJob moves a job to failed. It runs even when ctx has ended so a
// shutdown never strands a job in processing.
func (m *Manager) failJob(ctx context.Context, jobID, reason string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := m.store.TransitionJob(sctx, jobID, harvest.JobStatusFailed, reason, m.cfg.Clock.Now()); err != nil {
		m.logger.Error("mark job failed", logging.JobID(jobID), zap.Error(err))
		return
	}
	recordJob(harvest.JobStatusFailed)
}

// FailPending settles tasks that were queued but never ran, normally the
// queue contents drained at shutdown.
func (m *Manager) FailPending(ctx context.Context, tasks []harvest.Task) {
	for _, task := range tasks {
		switch task.Kind {
		case harvest.TaskScrape:
			m.failJob(ctx, task.JobID, "service stopped before the scrape started")
		case harvest.TaskGenerate:
			run, err := m.store.GetGenerationRun(ctx, task.JobID)
			if err != nil {
				m.logger.Error("load generation run", logging.JobID(task.JobID), zap.Error(err))
				run = m.fallbackRun(task)
			}
			m.finishRun(ctx, run, answer.Result{Failed: len(task.QuestionIDs)})
		}
	}
	if len(tasks) > 0 {
		m.logger.Warn("settled unstarted tasks", zap.Int("tasks", len(tasks)))
	}
}

// errStagePanic marks a stage that ended because a collaborator panicked.
var errStagePanic = errors.New("stage panicked")

// failureKind names the failure class for logs and progress notes.
func failureKind(err error) string {
	switch {
	case errors.Is(err, errStagePanic):
		return "panic"
	case errors.Is(err, scraper.ErrScrapeTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, scraper.ErrScrapeExit):
		return "scraper_exit"
	case errors.Is(err, scraper.ErrScrapeOutput):
		return "scraper_output"
	case errors.Is(err, harvest.ErrCrypto):
		return "credentials"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, harvest.ErrExternal):
		return "external"
	default:
		return "persistence"
	}
}

// failureTexts are the client-visible summaries stored on a failed job.
// The underlying error, including scraper stderr, is only logged.
var failureTexts = map[string]string{
	"panic":          "scraper crashed",
	"timeout":        "scraper timed out",
	"scraper_exit":   "scraper exited with an error",
	"scraper_output": "scraper returned unusable results",
	"credentials":    "stored credentials could not be decrypted",
	"canceled":       "scrape interrupted by shutdown",
	"external":       "scrape failed",
	"persistence":    "scraped questions could not be saved",
}

func failureText(err error) string {
	return failureTexts[failureKind(err)]
}

func elapsed(from, to time.Time) time.Duration {
	if d := to.Sub(from); d > 0 {
		return d
	}
	return 0
}
