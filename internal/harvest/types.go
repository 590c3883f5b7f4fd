// Package harvest defines core types shared across subsystems.
package harvest

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scraping job.
type JobStatus string

// Job status values persisted in the job store and sent on the wire.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed. Status only
// moves forward: pending -> processing -> {completed, failed}, and a pending
// job may fail before it starts.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// AllowedFrom lists the statuses that may transition into next.
func AllowedFrom(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// User is an account owning jobs. Credential fields hold ciphertext only.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"`
	APIKey          string    `json:"-"`
	EncryptedEmail  string    `json:"-"`
	EncryptedSecret string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasCredentials reports whether the encrypted third-party pair is stored.
func (u User) HasCredentials() bool {
	return u.EncryptedEmail != "" && u.EncryptedSecret != ""
}

// JobSpec is the client request for a new scraping job.
type JobSpec struct {
	Topic      string `json:"topic" validate:"required"`
	Keyword    string `json:"keyword" validate:"required"`
	TimeFilter string `json:"time_filter,omitempty"`
	Limit      int    `json:"limit" validate:"min=1,max=100"`
}

// Normalize trims whitespace from the textual fields.
func (s JobSpec) Normalize() JobSpec {
	s.Topic = strings.TrimSpace(s.Topic)
	s.Keyword = strings.TrimSpace(s.Keyword)
	s.TimeFilter = strings.TrimSpace(s.TimeFilter)
	return s
}

// Job is the metadata persisted for each scraping request.
type Job struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Topic      string     `json:"topic"`
	Keyword    string     `json:"keyword"`
	TimeFilter string     `json:"time_filter,omitempty"`
	Limit      int        `json:"limit"`
	Status     JobStatus  `json:"status"`
	ErrorText  string     `json:"error_text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Question is one scraped question scoped to a job.
type Question struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Text      string    `json:"question"`
	Link      string    `json:"link"`
	Selected  bool      `json:"selected"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is the generated answer for a question. There is at most one per question.
type Answer struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	Text       string    `json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnswerDetail joins an answer with the question it belongs to.
type AnswerDetail struct {
	Answer
	Question Question `json:"question"`
}

// RunStatus is the lifecycle state of an answer-generation run.
type RunStatus string

// Generation run states.
const (
	RunNotStarted          RunStatus = "not_started"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_failures"
)

// GenerationRun tracks the latest answer-generation stage for a job. It is
// independent of Job.Status, which reflects the scrape stage only.
type GenerationRun struct {
	JobID      string     `json:"job_id"`
	Status     RunStatus  `json:"status"`
	Requested  int        `json:"requested"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobDetail is the polling view of a job.
type JobDetail struct {
	Job        Job            `json:"job"`
	Questions  []Question     `json:"questions"`
	Generation *GenerationRun `json:"generation,omitempty"`
}

// Credentials is a decrypted third-party credential pair. Never persisted.
type Credentials struct {
	Email  string
	Secret string
}

// Empty reports whether no credential pair is present.
func (c Credentials) Empty() bool {
	return c.Email == "" && c.Secret == ""
}

// ScrapeParams is the input handed to a Scraper.
type ScrapeParams struct {
	JobID       string
	Topic       string
	Keyword     string
	TimeFilter  string
	Limit       int
	Credentials Credentials
}

// ScrapedQuestion is one (question, link) pair produced by a Scraper.
type ScrapedQuestion struct {
	Question string `json:"question"`
	Link     string `json:"link"`
}

// QATriple is one exported question/answer/link row.
type QATriple struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Link     string `json:"link"`
}

// Document is a rendered export artifact.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	ArchiveURI  string
}

// Stats summarizes a user's activity.
type Stats struct {
	QuestionsScraped int `json:"questions_scraped"`
	AnswersGenerated int `json:"answers_generated"`
	ExportableJobs   int `json:"exportable_jobs"`
	ActiveJobs       int `json:"active_jobs"`
}

// Caller is the authenticated identity passed into every manager call.
type Caller struct {
	UserID   string
	Username string
}

// Known reports whether the caller carries an identity.
func (c Caller) Known() bool {
	return c.UserID != ""
}

// TaskKind selects the background stage a Task runs.
type TaskKind string

// Background stage kinds.
const (
	TaskScrape   TaskKind = "scrape"
	TaskGenerate TaskKind = "generate"
)

// Task wraps a background stage ready to run.
type Task struct {
	Kind        TaskKind
	JobID       string
	UserID      string
	QuestionIDs []string
	Submitted   int64
}
