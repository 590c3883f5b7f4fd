package harvest

import (
	"context"
	"io"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	UpdateAPIKey(ctx context.Context, userID, apiKey string) error
	UpdateCredentials(ctx context.Context, userID, encryptedEmail, encryptedSecret string) error
}

// JobStore persists jobs, their questions and answers.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, userID string) ([]Job, error)
	// TransitionJob moves a job to status, rejecting transitions the state
	// machine does not allow with ErrInvalidTransition.
	TransitionJob(ctx context.Context, jobID string, status JobStatus, errText string, at time.Time) error
	// CompleteScrape inserts every question and marks the job completed as one unit.
	CompleteScrape(ctx context.Context, jobID string, questions []Question, at time.Time) error

	ListQuestions(ctx context.Context, jobID string) ([]Question, error)
	GetQuestion(ctx context.Context, questionID string) (Question, error)
	// SelectQuestions sets selected=true for ids and false for every other question of the job.
	SelectQuestions(ctx context.Context, jobID string, ids []string) error
	SetQuestionSelected(ctx context.Context, questionID string, selected bool) error

	// UpsertAnswer deletes any answer for the question and inserts answer.
	UpsertAnswer(ctx context.Context, answer Answer) error
	ListAnswers(ctx context.Context, jobID string) ([]AnswerDetail, error)

	SaveGenerationRun(ctx context.Context, run GenerationRun) error
	GetGenerationRun(ctx context.Context, jobID string) (GenerationRun, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	JobStore
	Close()
}

// TaskQueue provides enqueue/dequeue semantics for background stages.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// TaskHandler executes one background stage.
type TaskHandler interface {
	HandleTask(ctx context.Context, task Task) error
}

// Scraper invokes the external scraping collaborator.
type Scraper interface {
	Scrape(ctx context.Context, params ScrapeParams) ([]ScrapedQuestion, error)
}

// Generator invokes the external answer-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFactory builds the generator to use on behalf of a user.
type GeneratorFactory interface {
	ForUser(ctx context.Context, user User) (Generator, error)
}

// Renderer turns finalized Q&A triples into document bytes.
type Renderer interface {
	Render(ctx context.Context, rows []QATriple) ([]byte, error)
	ContentType() string
	Extension() string
}

// Vault encrypts credentials at rest.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Limiter paces calls to a rate-limited collaborator.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes stage notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
