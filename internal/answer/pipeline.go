// Package answer drives the answer-generation collaborator over a batch of
// selected questions.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
	"github.com/JakeFAU/qa-harvester/internal/progress"
)

// ErrEmptyAnswer marks a generation call that returned only whitespace.
var ErrEmptyAnswer = errors.New("generator returned empty answer")

const promptTemplate = `You are writing an informative answer for Quora.

Please answer the following question in a clear, helpful, and well-structured way. Use natural paragraphs and clean formatting. Do not use asterisks (*), markdown (**bold**), or HTML.

Instead of bullet points, use dashes (-) or numbered lists (1., 2., 3.). Avoid formatting symbols like *, _, or >. Use line breaks and spacing to make the answer readable on Quora. Keep it friendly, direct, and easy to follow.

Question: %s`

// BuildPrompt wraps a question in the answer-writing instructions.
func BuildPrompt(question string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(question))
}

// Config wires the pipeline's collaborators.
type Config struct {
	Store   harvest.JobStore
	Limiter harvest.Limiter
	// LimitKey groups rate-limited calls, normally the provider name.
	LimitKey    string
	IDs         harvest.IDGenerator
	Clock       harvest.Clock
	Emitter     progress.Emitter
	ItemTimeout time.Duration
	Logger      *zap.Logger
}

// Pipeline generates answers one question at a time.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
}

// Result counts item outcomes of one run.
type Result struct {
	Succeeded int
	Failed    int
}

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil || cfg.IDs == nil || cfg.Clock == nil {
		return nil, errors.New("answer pipeline requires store, id generator and clock")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop{}
	}
	if cfg.LimitKey == "" {
		cfg.LimitKey = "generator"
	}
	return &Pipeline{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("answer")}, nil
}

// Run processes questions strictly in order. A failed item is logged and
// counted and the batch moves on. Cancelling ctx stops the loop and counts
// every unprocessed item as failed.
func (p *Pipeline) Run(ctx context.Context, jobID string, gen harvest.Generator, questions []harvest.Question) Result {
	var res Result
	for i, q := range questions {
		if ctx.Err() != nil {
			remaining := len(questions) - i
			res.Failed += remaining
			p.logger.Warn("generation interrupted",
				logging.JobID(jobID),
				zap.Int("remaining", remaining),
				zap.Error(ctx.Err()),
			)
			return res
		}
		start := p.cfg.Clock.Now()
		if err := p.item(ctx, gen, q); err != nil {
			res.Failed++
			metrics.ObserveAnswer("error")
			p.logger.Warn("answer generation failed",
				logging.JobID(jobID),
				logging.QuestionID(q.ID),
				zap.Error(err),
			)
			p.cfg.Emitter.Emit(progress.Event{
				JobID:      jobID,
				QuestionID: q.ID,
				TS:         p.cfg.Clock.Now(),
				Stage:      progress.StageAnswerError,
				Note:       err.Error(),
			})
			continue
		}
		res.Succeeded++
		metrics.ObserveAnswer("success")
		p.cfg.Emitter.Emit(progress.Event{
			JobID:      jobID,
			QuestionID: q.ID,
			TS:         p.cfg.Clock.Now(),
			Stage:      progress.StageAnswerDone,
			Dur:        nonNegative(p.cfg.Clock.Now().Sub(start)),
		})
	}
	return res
}

func (p *Pipeline) item(ctx context.Context, gen harvest.Generator, q harvest.Question) error {
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx, p.cfg.LimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	callCtx := ctx
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}
	text, err := gen.Generate(callCtx, BuildPrompt(q.Text))
	if err != nil {
		return harvest.External("generate answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return harvest.External("generate answer", ErrEmptyAnswer)
	}
	id, err := p.cfg.IDs.NewID()
	if err != nil {
		return fmt.Errorf("answer id: %w", err)
	}
	answer := harvest.Answer{ID: id, QuestionID: q.ID, Text: text, CreatedAt: p.cfg.Clock.Now()}
	if err := p.cfg.Store.UpsertAnswer(ctx, answer); err != nil {
		return fmt.Errorf("store answer: %w", err)
	}
	return nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
