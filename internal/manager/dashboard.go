package manager

import (
	"context"
	"errors"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// ActivityLimit is the number of jobs RecentActivity returns.
const ActivityLimit = 5

// Stats summarizes the caller's jobs. A job is exportable once it has at
// least one answer and active while it is queued, scraping or generating.
func (m *Manager) Stats(ctx context.Context, caller harvest.Caller) (harvest.Stats, error) {
	jobs, err := m.ListJobs(ctx, caller)
	if err != nil {
		return harvest.Stats{}, err
	}
	var stats harvest.Stats
	for _, job := range jobs {
		questions, err := m.store.ListQuestions(ctx, job.ID)
		if err != nil {
			return harvest.Stats{}, storeErr("list questions", err)
		}
		answers, err := m.store.ListAnswers(ctx, job.ID)
		if err != nil {
			return harvest.Stats{}, storeErr("list answers", err)
		}
		stats.QuestionsScraped += len(questions)
		stats.AnswersGenerated += len(answers)
		if len(answers) > 0 {
			stats.ExportableJobs++
		}
		active := !job.Status.Terminal()
		if !active {
			run, err := m.store.GetGenerationRun(ctx, job.ID)
			switch {
			case err == nil:
				active = run.Status == harvest.RunRunning
			case !errors.Is(err, harvest.ErrNotFound):
				return harvest.Stats{}, storeErr("get generation run", err)
			}
		}
		if active {
			stats.ActiveJobs++
		}
	}
	return stats, nil
}

// RecentActivity returns the caller's most recent jobs.
func (m *Manager) RecentActivity(ctx context.Context, caller harvest.Caller) ([]harvest.Job, error) {
	jobs, err := m.ListJobs(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(jobs) > ActivityLimit {
		jobs = jobs[:ActivityLimit]
	}
	return jobs, nil
}
