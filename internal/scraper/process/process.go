// Package process runs an external scraper program. The request is written to
// the program's stdin as JSON and the questions are read from its stdout.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
)

// Environment variables carrying the decrypted credential pair. Credentials
// never appear in argv.
const (
	EnvEmail    = "HARVESTER_SCRAPER_EMAIL"
	EnvPassword = "HARVESTER_SCRAPER_PASSWORD"
)

const stderrLimit = 2048

// Config describes the command to run.
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Scraper implements harvest.Scraper by running Config.Command.
type Scraper struct {
	cfg    Config
	logger *zap.Logger
}

type request struct {
	JobID      string `json:"job_id"`
	Topic      string `json:"topic"`
	Keyword    string `json:"keyword"`
	TimeFilter string `json:"time_filter,omitempty"`
	Limit      int    `json:"limit"`
}

// New validates cfg and returns a Scraper.
func New(cfg Config, logger *zap.Logger) (*Scraper, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("scraper command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Scraper{cfg: cfg, logger: logging.OrNop(logger).Named("scraper.process")}, nil
}

// Scrape runs the command once. Non-zero exit, timeout, and unparseable
// output map to scraper.ErrScrapeExit, ErrScrapeTimeout and ErrScrapeOutput.
func (s *Scraper) Scrape(ctx context.Context, params harvest.ScrapeParams) ([]harvest.ScrapedQuestion, error) {
	body, err := json.Marshal(request{
		JobID:      params.JobID,
		Topic:      params.Topic,
		Keyword:    params.Keyword,
		TimeFilter: params.TimeFilter,
		Limit:      params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scraper request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// #nosec G204 -- command comes from operator configuration.
	cmd := exec.CommandContext(runCtx, s.cfg.Command, s.cfg.Args...)
	cmd.Env = append(os.Environ(),
		EnvEmail+"="+params.Credentials.Email,
		EnvPassword+"="+params.Credentials.Secret,
	)
	cmd.Stdin = bytes.NewReader(body)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	s.logger.Debug("scraper finished",
		logging.JobID(params.JobID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("after %s: %w", s.cfg.Timeout, scraper.ErrScrapeTimeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scraper canceled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("exit code %d: %s: %w", exitErr.ExitCode(), tail(stderr.String()), scraper.ErrScrapeExit)
		}
		return nil, fmt.Errorf("start scraper: %v: %w", runErr, scraper.ErrScrapeExit)
	}
	return decode(stdout.Bytes())
}

// decode accepts either a bare array or an object with a "questions" array.
func decode(out []byte) ([]harvest.ScrapedQuestion, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty output: %w", scraper.ErrScrapeOutput)
	}
	var questions []harvest.ScrapedQuestion
	if trimmed[0] == '{' {
		var envelope struct {
			Questions []harvest.ScrapedQuestion `json:"questions"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%v: %w", err, scraper.ErrScrapeOutput)
		}
		if envelope.Questions == nil {
			return nil, fmt.Errorf("missing questions field: %w", scraper.ErrScrapeOutput)
		}
		return envelope.Questions, nil
	}
	if err := json.Unmarshal(trimmed, &questions); err != nil {
		return nil, fmt.Errorf("%v: %w", err, scraper.ErrScrapeOutput)
	}
	return questions, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		return s[len(s)-stderrLimit:]
	}
	return s
}
