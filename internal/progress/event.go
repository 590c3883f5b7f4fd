package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the pipeline milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageScrapeStart   Stage = "SCRAPE_START"
	StageScrapeDone    Stage = "SCRAPE_DONE"
	StageScrapeError   Stage = "SCRAPE_ERROR"
	StageGenerateStart Stage = "GENERATE_START"
	StageGenerateDone  Stage = "GENERATE_DONE"
	StageAnswerDone    Stage = "ANSWER_DONE"
	StageAnswerError   Stage = "ANSWER_ERROR"
	StageExportDone    Stage = "EXPORT_DONE"
)

// Event captures one milestone of a job.
type Event struct {
	JobID  string    `json:"job_id"`
	UserID string    `json:"user_id,omitempty"`
	TS     time.Time `json:"ts"`
	Stage  Stage     `json:"stage"`
	// QuestionID scopes answer events to one question.
	QuestionID string `json:"question_id,omitempty"`
	// Count is stage specific: questions scraped, answers requested or
	// succeeded, or exported bytes.
	Count int `json:"count,omitempty"`
	// Failed counts item failures on GENERATE_DONE.
	Failed int           `json:"failed,omitempty"`
	Dur    time.Duration `json:"dur,omitempty"`
	// Note carries low-volume operator detail such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScrapeStart, StageScrapeDone, StageScrapeError,
		StageGenerateStart, StageGenerateDone, StageExportDone:
	case StageAnswerDone, StageAnswerError:
		if e.QuestionID == "" {
			return fmt.Errorf("%s requires question id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 || e.Failed < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage closes a scrape or generation run.
func (s Stage) Terminal() bool {
	switch s {
	case StageScrapeDone, StageScrapeError, StageGenerateDone:
		return true
	default:
		return false
	}
}
