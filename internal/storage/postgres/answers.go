package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// UpsertAnswer deletes any answer for the question and inserts the new one.
func (s *Store) UpsertAnswer(ctx context.Context, answer harvest.Answer) error {
	return s.inTx(ctx, "upsert answer", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM answers WHERE question_id = $1`, answer.QuestionID); err != nil {
			return harvest.Persistence("delete answer", err)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO answers (id, question_id, answer, created_at)
VALUES ($1,$2,$3,$4)`,
			answer.ID, answer.QuestionID, answer.Text, answer.CreatedAt,
		)
		if err != nil {
			return classify("insert answer", err, "question", answer.QuestionID)
		}
		return nil
	})
}

// ListAnswers returns answers joined with their questions, in scrape order.
func (s *Store) ListAnswers(ctx context.Context, jobID string) ([]harvest.AnswerDetail, error) {
	rows, err := s.pool.Query(ctx, `
SELECT a.id, a.question_id, a.answer, a.created_at,
	q.id, q.job_id, q.question, q.link, q.selected, q.created_at
FROM answers a
JOIN questions q ON q.id = a.question_id
WHERE q.job_id = $1
ORDER BY q.position`, jobID)
	if err != nil {
		return nil, harvest.Persistence("list answers", err)
	}
	defer rows.Close()

	var out []harvest.AnswerDetail
	for rows.Next() {
		var d harvest.AnswerDetail
		err := rows.Scan(
			&d.ID, &d.QuestionID, &d.Text, &d.CreatedAt,
			&d.Question.ID, &d.Question.JobID, &d.Question.Text, &d.Question.Link,
			&d.Question.Selected, &d.Question.CreatedAt,
		)
		if err != nil {
			return nil, harvest.Persistence("scan answer", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, harvest.Persistence("list answers", err)
	}
	return out, nil
}

// SaveGenerationRun upserts the job's latest generation run.
func (s *Store) SaveGenerationRun(ctx context.Context, run harvest.GenerationRun) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO generation_runs (job_id, status, requested, succeeded, failed, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (job_id) DO UPDATE
SET status = EXCLUDED.status,
	requested = EXCLUDED.requested,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`,
		run.JobID, string(run.Status), run.Requested, run.Succeeded, run.Failed, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return classify("upsert generation run", err, "job", run.JobID)
	}
	return nil
}

// GetGenerationRun fetches the job's latest generation run.
func (s *Store) GetGenerationRun(ctx context.Context, jobID string) (harvest.GenerationRun, error) {
	var (
		run    harvest.GenerationRun
		status string
	)
	err := s.pool.QueryRow(ctx, `
SELECT job_id, status, requested, succeeded, failed, started_at, finished_at
FROM generation_runs WHERE job_id = $1`, jobID).Scan(
		&run.JobID, &status, &run.Requested, &run.Succeeded, &run.Failed, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return harvest.GenerationRun{}, classify("select generation run", err, "generation run", jobID)
	}
	run.Status = harvest.RunStatus(status)
	return run, nil
}
