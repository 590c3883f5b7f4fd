package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/qa-harvester/internal/answer"
	"github.com/JakeFAU/qa-harvester/internal/clock/system"
	"github.com/JakeFAU/qa-harvester/internal/dispatcher"
	"github.com/JakeFAU/qa-harvester/internal/export"
	"github.com/JakeFAU/qa-harvester/internal/export/pdf"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/id/uuid"
	"github.com/JakeFAU/qa-harvester/internal/progress"
	queuemem "github.com/JakeFAU/qa-harvester/internal/queue/memory"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
	"github.com/JakeFAU/qa-harvester/internal/storage/memory"
	"github.com/JakeFAU/qa-harvester/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockScraper mocks harvest.Scraper.
type MockScraper struct {
	mock.Mock
}

// Scrape satisfies harvest.Scraper for the mock.
func (m *MockScraper) Scrape(ctx context.Context, params harvest.ScrapeParams) ([]harvest.ScrapedQuestion, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).([]harvest.ScrapedQuestion)
	return out, args.Error(1)
}

// textGenerator answers every question unless its text is listed in fail.
type textGenerator struct {
	mu     sync.Mutex
	prefix string
	fail   map[string]bool
}

func (g *textGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	question := prompt[strings.LastIndex(prompt, "Question: ")+len("Question: "):]
	if g.fail[question] {
		return "", errors.New("model overloaded")
	}
	return g.prefix + question, nil
}

type staticFactory struct {
	gen harvest.Generator
	err error
}

func (f staticFactory) ForUser(context.Context, harvest.User) (harvest.Generator, error) {
	return f.gen, f.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixture struct {
	m       *Manager
	store   *memory.Store
	queue   *queuemem.Queue
	scraper *MockScraper
	gen     *textGenerator
	vault   *vault.Vault
	events  *recordingEmitter
	caller  harvest.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	v, err := vault.New("manager-test-secret")
	require.NoError(t, err)
	email, secret, err := vault.EncryptPair(v, harvest.Credentials{Email: "ada@example.com", Secret: "pw"})
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), harvest.User{
		ID: "u1", Username: "ada", EncryptedEmail: email, EncryptedSecret: secret,
	}))
	require.NoError(t, store.CreateUser(context.Background(), harvest.User{ID: "u2", Username: "bob"}))

	events := &recordingEmitter{}
	clock := system.New()
	ids := uuid.New()
	pipeline, err := answer.NewPipeline(answer.Config{Store: store, IDs: ids, Clock: clock, Emitter: events})
	require.NoError(t, err)
	exporter, err := export.New(export.Config{Renderer: pdf.New(clock)})
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		queue:   queuemem.NewQueue(16),
		scraper: &MockScraper{},
		gen:     &textGenerator{prefix: "answer to ", fail: map[string]bool{}},
		vault:   v,
		events:  events,
		caller:  harvest.Caller{UserID: "u1", Username: "ada"},
	}
	f.m, err = New(Config{
		Store:          store,
		Queue:          f.queue,
		Vault:          v,
		Scraper:        f.scraper,
		Generators:     staticFactory{gen: f.gen},
		Answers:        pipeline,
		Exporter:       exporter,
		IDs:            ids,
		Clock:          clock,
		Emitter:        events,
		DefaultLimit:   20,
		MaxLimit:       100,
		EnqueueTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

// runNext executes the next queued task on the calling goroutine.
func (f *fixture) runNext(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	return f.m.HandleTask(context.Background(), task)
}

func pairs(n int) []harvest.ScrapedQuestion {
	out := make([]harvest.ScrapedQuestion, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, harvest.ScrapedQuestion{
			Question: fmt.Sprintf("What is question number %d about?", i),
			Link:     fmt.Sprintf("https://www.quora.com/question-%d", i),
		})
	}
	return out
}

// scrapedJob creates a job and runs its scrape with n returned pairs.
func (f *fixture) scrapedJob(t *testing.T, n int) harvest.JobDetail {
	t.Helper()
	job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai", Limit: n})
	require.NoError(t, err)
	f.scraper.On("Scrape", mock.Anything, mock.MatchedBy(func(p harvest.ScrapeParams) bool {
		return p.JobID == job.ID
	})).Return(pairs(n), nil).Once()
	require.NoError(t, f.runNext(t))
	detail, err := f.m.GetJob(context.Background(), f.caller, job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, detail.Job.Status)
	return detail
}

func questionIDs(qs []harvest.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

func TestCreateJobQueuesScrapeAndStaysPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: " technology ", Keyword: "go"})
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusPending, job.Status)
	require.Equal(t, "technology", job.Topic)
	require.Equal(t, 20, job.Limit, "omitted limit takes the default")
	require.Equal(t, 1, f.queue.Len())

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusPending, stored.Status)
}

func TestCreateJobRejectsInvalidSpecs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for name, spec := range map[string]harvest.JobSpec{
		"blank topic":   {Topic: "   ", Keyword: "ai", Limit: 5},
		"blank keyword": {Topic: "technology", Keyword: "\t", Limit: 5},
		"limit zero":    {Topic: "technology", Keyword: "ai", Limit: -1},
		"limit high":    {Topic: "technology", Keyword: "ai", Limit: 101},
	} {
		_, err := f.m.CreateJob(context.Background(), f.caller, spec)
		require.ErrorIs(t, err, harvest.ErrValidation, name)
	}
	require.Zero(t, f.queue.Len())
	jobs, err := f.store.ListJobs(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, jobs)

	_, err = f.m.CreateJob(context.Background(), harvest.Caller{}, harvest.JobSpec{Topic: "t", Keyword: "k"})
	require.ErrorIs(t, err, harvest.ErrUnauthorized)
}

func TestCreateJobFailsJobWhenQueueUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.queue.Close()
	_, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai"})
	require.ErrorIs(t, err, harvest.ErrPersistence)

	jobs, err := f.store.ListJobs(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, harvest.JobStatusFailed, jobs[0].Status)
	require.NotEmpty(t, jobs[0].ErrorText)
}

func TestScrapePersistsQuestionsAndCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{
		Topic: "technology", Keyword: "ai", TimeFilter: "week", Limit: 3,
	})
	require.NoError(t, err)
	f.scraper.On("Scrape", mock.Anything, harvest.ScrapeParams{
		JobID:       job.ID,
		Topic:       "technology",
		Keyword:     "ai",
		TimeFilter:  "week",
		Limit:       3,
		Credentials: harvest.Credentials{Email: "ada@example.com", Secret: "pw"},
	}).Return(pairs(3), nil).Once()

	require.NoError(t, f.runNext(t))
	f.scraper.AssertExpectations(t)

	detail, err := f.m.GetJob(context.Background(), f.caller, job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, detail.Job.Status)
	require.NotNil(t, detail.Job.StartedAt)
	require.NotNil(t, detail.Job.FinishedAt)
	require.Nil(t, detail.Generation)
	require.Len(t, detail.Questions, 3)
	for i, q := range detail.Questions {
		require.Equal(t, pairs(3)[i].Question, q.Text)
		require.False(t, q.Selected)
	}
	require.Equal(t, []progress.Stage{progress.StageScrapeStart, progress.StageScrapeDone}, f.events.stages())
}

func TestScrapeTruncatesToLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai", Limit: 2})
	require.NoError(t, err)
	f.scraper.On("Scrape", mock.Anything, mock.Anything).Return(pairs(5), nil).Once()
	require.NoError(t, f.runNext(t))

	detail, err := f.m.GetJob(context.Background(), f.caller, job.ID)
	require.NoError(t, err)
	require.Len(t, detail.Questions, 2)
}

func TestScrapeFailuresLeaveNoQuestions(t *testing.T) {
	t.Parallel()

	malformed := pairs(3)
	malformed[1].Link = "/relative/link"

	cases := map[string]struct {
		out  []harvest.ScrapedQuestion
		err  error
		text string
	}{
		"exit": {
			err:  fmt.Errorf("exit code 2: Traceback: login rejected for ada@example.com: %w", scraper.ErrScrapeExit),
			text: "scraper exited with an error",
		},
		"timeout":   {err: scraper.ErrScrapeTimeout, text: "scraper timed out"},
		"malformed": {out: malformed, text: "scraper returned unusable results"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai", Limit: 5})
			require.NoError(t, err)
			f.scraper.On("Scrape", mock.Anything, mock.Anything).Return(tc.out, tc.err).Once()

			err = f.runNext(t)
			require.ErrorIs(t, err, harvest.ErrExternal)

			detail, err := f.m.GetJob(context.Background(), f.caller, job.ID)
			require.NoError(t, err)
			require.Equal(t, harvest.JobStatusFailed, detail.Job.Status)
			require.Equal(t, tc.text, detail.Job.ErrorText)
			require.NotContains(t, detail.Job.ErrorText, "ada@example.com")
			require.Empty(t, detail.Questions)
			require.Contains(t, f.events.stages(), progress.StageScrapeError)
		})
	}
}

func TestScrapePanicFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.scraper.On("Scrape", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("adapter bug") }).
		Return(nil, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	pool := dispatcher.NewPool(f.queue, f.m, 1, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	job, err := f.m.CreateJob(ctx, f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai"})
	require.NoError(t, err)
	var got harvest.Job
	require.Eventually(t, func() bool {
		got, err = f.store.GetJob(ctx, job.ID)
		return err == nil && got.Status == harvest.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "scraper crashed", got.ErrorText)
	require.NotContains(t, got.ErrorText, "adapter bug")

	questions, err := f.store.ListQuestions(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, questions)
	require.Contains(t, f.events.stages(), progress.StageScrapeError)
}

func TestScrapeFailsOnUndecryptableCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.UpdateCredentials(context.Background(), "u1", "garbage", "garbage"))
	job, err := f.m.CreateJob(context.Background(), f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai"})
	require.NoError(t, err)

	err = f.runNext(t)
	require.ErrorIs(t, err, harvest.ErrCrypto)
	f.scraper.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything)

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusFailed, got.Status)
	require.Equal(t, "stored credentials could not be decrypted", got.ErrorText)
}

func TestScrapeTaskForSettledJobIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 1)
	err := f.m.HandleTask(context.Background(), harvest.Task{Kind: harvest.TaskScrape, JobID: detail.Job.ID, UserID: "u1"})
	require.ErrorIs(t, err, harvest.ErrInvalidTransition)

	got, err := f.store.GetJob(context.Background(), detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, got.Status)
}

func TestGetJobHidesForeignJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 2)
	bob := harvest.Caller{UserID: "u2", Username: "bob"}

	_, err := f.m.GetJob(context.Background(), bob, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	_, err = f.m.GetJob(context.Background(), f.caller, "missing")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	_, err = f.m.GenerateAnswers(context.Background(), bob, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	_, err = f.m.SetQuestionSelected(context.Background(), bob, detail.Questions[0].ID, true)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	_, err = f.m.Export(context.Background(), bob, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestSelectQuestionsReplacesSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 3)
	ids := questionIDs(detail.Questions)
	ctx := context.Background()

	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, []string{ids[0], ids[2]}))
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, []string{ids[0], ids[2], ids[0]}))
	got, err := f.m.GetJob(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, []bool{got.Questions[0].Selected, got.Questions[1].Selected, got.Questions[2].Selected})

	err = f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, []string{ids[1], "not-in-job"})
	require.ErrorIs(t, err, harvest.ErrValidation)
	got, err = f.m.GetJob(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.False(t, got.Questions[1].Selected, "rejected selection leaves state unchanged")

	q, err := f.m.SetQuestionSelected(ctx, f.caller, ids[1], true)
	require.NoError(t, err)
	require.True(t, q.Selected)
}

func TestGenerateAnswersRequiresSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 2)
	_, err := f.m.GenerateAnswers(context.Background(), f.caller, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrValidation)
	require.Zero(t, f.queue.Len())

	run, err := f.m.Generation(context.Background(), f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunNotStarted, run.Status)
}

func TestGenerateAnswersIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 3)
	ids := questionIDs(detail.Questions)
	f.gen.fail[detail.Questions[1].Text] = true
	ctx := context.Background()

	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, ids))
	n, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	run, err := f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunRunning, run.Status)

	require.NoError(t, f.runNext(t))

	answers, err := f.m.Answers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	require.Equal(t, ids[0], answers[0].Question.ID)
	require.Equal(t, ids[2], answers[1].Question.ID)
	require.Equal(t, "answer to "+detail.Questions[0].Text, answers[0].Text)

	run, err = f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompletedWithErrors, run.Status)
	require.Equal(t, 3, run.Requested)
	require.Equal(t, 2, run.Succeeded)
	require.Equal(t, 1, run.Failed)
	require.NotNil(t, run.FinishedAt)

	job, err := f.store.GetJob(ctx, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, job.Status, "generation does not touch job status")
}

func TestGenerateAnswersRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 1)
	ctx := context.Background()
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))

	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrConflict)
	require.Equal(t, 1, f.queue.Len())

	require.NoError(t, f.runNext(t))
	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err, "a finished run can be restarted")
}

func TestRegenerationReplacesAnswers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 2)
	ctx := context.Background()
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))

	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.NoError(t, f.runNext(t))

	f.gen.mu.Lock()
	f.gen.prefix = "second take on "
	f.gen.mu.Unlock()
	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.NoError(t, f.runNext(t))

	answers, err := f.m.Answers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	for _, a := range answers {
		require.True(t, strings.HasPrefix(a.Text, "second take on "))
	}
}

func TestGenerateWithUnavailableGeneratorFailsEveryItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.m.cfg.Generators = staticFactory{err: harvest.External("build generator", errors.New("no api key"))}
	detail := f.scrapedJob(t, 2)
	ctx := context.Background()
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))
	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)

	require.ErrorIs(t, f.runNext(t), harvest.ErrExternal)
	run, err := f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompletedWithErrors, run.Status)
	require.Equal(t, 2, run.Failed)
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, string) (string, error) {
	panic("generator bug")
}

func TestGeneratePanicFinalizesRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.m.cfg.Generators = staticFactory{gen: panicGenerator{}}
	detail := f.scrapedJob(t, 2)
	ctx := context.Background()
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))
	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)

	require.ErrorIs(t, f.runNext(t), harvest.ErrExternal)
	run, err := f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompletedWithErrors, run.Status)
	require.Equal(t, 2, run.Failed)
	require.NotNil(t, run.FinishedAt)

	f.m.cfg.Generators = staticFactory{gen: f.gen}
	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err, "a crashed run does not block a retry")
	require.NoError(t, f.runNext(t))
	run, err = f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompleted, run.Status)
}

// runLoadFailStore fails the next fails generation-run reads.
type runLoadFailStore struct {
	*memory.Store
	fails int
}

func (s *runLoadFailStore) GetGenerationRun(ctx context.Context, jobID string) (harvest.GenerationRun, error) {
	if s.fails > 0 {
		s.fails--
		return harvest.GenerationRun{}, harvest.Persistence("get generation run", errors.New("connection reset"))
	}
	return s.Store.GetGenerationRun(ctx, jobID)
}

func TestGenerateSettlesRunWhenItCannotBeLoaded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 3)
	ctx := context.Background()
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))
	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)

	f.m.store = &runLoadFailStore{Store: f.store, fails: 1}
	require.ErrorIs(t, f.runNext(t), harvest.ErrPersistence)

	run, err := f.store.GetGenerationRun(ctx, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompletedWithErrors, run.Status)
	require.Equal(t, 3, run.Requested)
	require.Equal(t, 3, run.Failed)
	require.False(t, run.StartedAt.IsZero())

	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
}

func TestExport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	detail := f.scrapedJob(t, 2)
	ctx := context.Background()

	_, err := f.m.Export(ctx, f.caller, detail.Job.ID)
	require.ErrorIs(t, err, harvest.ErrValidation)

	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))
	_, err = f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.NoError(t, f.runNext(t))

	doc, err := f.m.Export(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, "application/pdf", doc.ContentType)
	require.Equal(t, "quora-qa-export-"+detail.Job.ID+".pdf", doc.Filename)
	require.True(t, strings.HasPrefix(string(doc.Data), "%PDF-"))
	require.Contains(t, f.events.stages(), progress.StageExportDone)
}

func TestStatsAndRecentActivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	answered := f.scrapedJob(t, 3)
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, answered.Job.ID, questionIDs(answered.Questions)[:2]))
	_, err := f.m.GenerateAnswers(ctx, f.caller, answered.Job.ID)
	require.NoError(t, err)
	require.NoError(t, f.runNext(t))

	f.scrapedJob(t, 1)
	for range 5 {
		_, err := f.m.CreateJob(ctx, f.caller, harvest.JobSpec{Topic: "finance", Keyword: "tax"})
		require.NoError(t, err)
	}

	stats, err := f.m.Stats(ctx, f.caller)
	require.NoError(t, err)
	require.Equal(t, harvest.Stats{QuestionsScraped: 4, AnswersGenerated: 2, ExportableJobs: 1, ActiveJobs: 5}, stats)

	recent, err := f.m.RecentActivity(ctx, f.caller)
	require.NoError(t, err)
	require.Len(t, recent, ActivityLimit)
	for _, job := range recent {
		require.Equal(t, harvest.JobStatusPending, job.Status)
	}

	other, err := f.m.Stats(ctx, harvest.Caller{UserID: "u2"})
	require.NoError(t, err)
	require.Zero(t, other)
}

func TestFailPendingSettlesDrainedTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	detail := f.scrapedJob(t, 1)
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, detail.Job.ID, questionIDs(detail.Questions)))
	_, err := f.m.GenerateAnswers(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	queued, err := f.m.CreateJob(ctx, f.caller, harvest.JobSpec{Topic: "finance", Keyword: "tax"})
	require.NoError(t, err)

	f.queue.Close()
	f.m.FailPending(ctx, f.queue.Drain())

	job, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusFailed, job.Status)
	run, err := f.m.Generation(ctx, f.caller, detail.Job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.RunCompletedWithErrors, run.Status)
	require.Equal(t, 1, run.Failed)
}

func TestEndToEndWithWorkerPool(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.scraper.On("Scrape", mock.Anything, mock.Anything).Return(pairs(4), nil).Once()
	ctx, cancel := context.WithCancel(context.Background())
	pool := dispatcher.NewPool(f.queue, f.m, 2, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	job, err := f.m.CreateJob(ctx, f.caller, harvest.JobSpec{Topic: "technology", Keyword: "ai", Limit: 4})
	require.NoError(t, err)
	var detail harvest.JobDetail
	require.Eventually(t, func() bool {
		detail, err = f.m.GetJob(ctx, f.caller, job.ID)
		return err == nil && detail.Job.Status == harvest.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, detail.Questions, 4)

	ids := questionIDs(detail.Questions)
	require.NoError(t, f.m.SelectQuestions(ctx, f.caller, job.ID, ids[:3]))
	n, err := f.m.GenerateAnswers(ctx, f.caller, job.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Eventually(t, func() bool {
		run, err := f.m.Generation(ctx, f.caller, job.ID)
		return err == nil && run.Status == harvest.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)

	answers, err := f.m.Answers(ctx, f.caller, job.ID)
	require.NoError(t, err)
	require.Len(t, answers, 3)
	doc, err := f.m.Export(ctx, f.caller, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Data)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
