package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

const jobColumns = `id, user_id, topic, keyword, time_filter, max_items, status, error_text, created_at, started_at, finished_at`

const questionColumns = `id, job_id, question, link, selected, created_at`

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job harvest.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		job.ID, job.UserID, job.Topic, job.Keyword, job.TimeFilter, job.Limit,
		string(job.Status), job.ErrorText, job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return classify("insert job", err, "user", job.UserID)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return harvest.Job{}, classify("select job", err, "job", jobID)
	}
	return job, nil
}

// ListJobs returns the user's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string) ([]harvest.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, harvest.Persistence("list jobs", err)
	}
	defer rows.Close()

	var out []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, harvest.Persistence("scan job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, harvest.Persistence("list jobs", err)
	}
	return out, nil
}

// TransitionJob applies a state-machine transition with a guarded UPDATE.
func (s *Store) TransitionJob(
	ctx context.Context,
	jobID string,
	status harvest.JobStatus,
	errText string,
	at time.Time,
) error {
	return transition(ctx, s.pool, jobID, status, errText, at)
}

func transition(
	ctx context.Context,
	q querier,
	jobID string,
	status harvest.JobStatus,
	errText string,
	at time.Time,
) error {
	var started, finished *time.Time
	if status == harvest.JobStatusProcessing {
		started = &at
	}
	if status.Terminal() {
		finished = &at
	}
	tag, err := q.Exec(ctx, `
UPDATE jobs
SET status = $2,
	error_text = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $1 AND status = ANY($6)`,
		jobID, string(status), errText, started, finished, statusStrings(harvest.AllowedFrom(status)),
	)
	if err != nil {
		return harvest.Persistence("update job status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := q.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current); err != nil {
		return classify("select job status", err, "job", jobID)
	}
	return fmt.Errorf("job %s %s -> %s: %w", jobID, current, status, harvest.ErrInvalidTransition)
}

// CompleteScrape marks the job completed and inserts its questions in one transaction.
func (s *Store) CompleteScrape(ctx context.Context, jobID string, questions []harvest.Question, at time.Time) error {
	for _, q := range questions {
		if q.JobID != jobID {
			return harvest.Validation("job_id", "question does not belong to job")
		}
	}
	return s.inTx(ctx, "complete scrape", func(tx pgx.Tx) error {
		if err := transition(ctx, tx, jobID, harvest.JobStatusCompleted, "", at); err != nil {
			return err
		}
		for i, q := range questions {
			_, err := tx.Exec(ctx, `
INSERT INTO questions (id, job_id, question, link, position, selected, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				q.ID, q.JobID, q.Text, q.Link, i, q.Selected, q.CreatedAt,
			)
			if err != nil {
				return classify("insert question", err, "question", q.ID)
			}
		}
		return nil
	})
}

// ListQuestions returns a job's questions in scrape order.
func (s *Store) ListQuestions(ctx context.Context, jobID string) ([]harvest.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, harvest.Persistence("list questions", err)
	}
	defer rows.Close()

	var out []harvest.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, harvest.Persistence("scan question", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, harvest.Persistence("list questions", err)
	}
	return out, nil
}

// GetQuestion fetches a question by ID.
func (s *Store) GetQuestion(ctx context.Context, questionID string) (harvest.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, questionID))
	if err != nil {
		return harvest.Question{}, classify("select question", err, "question", questionID)
	}
	return q, nil
}

// SelectQuestions replaces the job's selection with exactly ids.
func (s *Store) SelectQuestions(ctx context.Context, jobID string, ids []string) error {
	// Non-nil so pgx encodes an empty array rather than NULL.
	unique := append([]string{}, ids...)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	return s.inTx(ctx, "select questions", func(tx pgx.Tx) error {
		var owned int
		err := tx.QueryRow(ctx, `
SELECT count(q.id)
FROM jobs j
LEFT JOIN questions q ON q.job_id = j.id AND q.id = ANY($2)
WHERE j.id = $1
GROUP BY j.id`, jobID, unique).Scan(&owned)
		if err != nil {
			return classify("count selected questions", err, "job", jobID)
		}
		if owned != len(unique) {
			return harvest.Validation("question_ids", "one or more questions do not belong to job")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE questions SET selected = (id = ANY($2)) WHERE job_id = $1`, jobID, unique); err != nil {
			return harvest.Persistence("update selection", err)
		}
		return nil
	})
}

// SetQuestionSelected toggles one question.
func (s *Store) SetQuestionSelected(ctx context.Context, questionID string, selected bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE questions SET selected = $2 WHERE id = $1`, questionID, selected)
	if err != nil {
		return harvest.Persistence("update question", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.NotFound("question", questionID)
	}
	return nil
}

func scanJob(row pgx.Row) (harvest.Job, error) {
	var (
		job    harvest.Job
		status string
	)
	err := row.Scan(
		&job.ID, &job.UserID, &job.Topic, &job.Keyword, &job.TimeFilter, &job.Limit,
		&status, &job.ErrorText, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return harvest.Job{}, err
	}
	job.Status = harvest.JobStatus(status)
	if !job.Status.Valid() {
		return harvest.Job{}, errors.New("unknown job status " + status)
	}
	return job, nil
}

func scanQuestion(row pgx.Row) (harvest.Question, error) {
	var q harvest.Question
	if err := row.Scan(&q.ID, &q.JobID, &q.Text, &q.Link, &q.Selected, &q.CreatedAt); err != nil {
		return harvest.Question{}, err
	}
	return q, nil
}

func statusStrings(in []harvest.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
