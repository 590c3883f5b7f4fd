// Package headless scrapes question links from a search page rendered in
// headless Chrome.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
)

// stagnantRounds is how many scrolls without new links end the crawl.
const stagnantRounds = 3

const anchorsJS = `Array.from(document.querySelectorAll("a[href]")).map(a => ({text: a.innerText.trim(), href: a.href}))`

// Config controls the browser session.
type Config struct {
	SearchURL   string
	NavTimeout  time.Duration
	MaxScrolls  int
	ScrollDelay time.Duration
	UserAgent   string
}

// Scraper implements harvest.Scraper with chromedp.
type Scraper struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

type anchor struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// New starts an exec allocator. Call Close to release it.
func New(cfg Config, logger *zap.Logger) *Scraper {
	cfg = withDefaults(cfg)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Scraper{
		cfg:         cfg,
		logger:      logging.OrNop(logger).Named("scraper.headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 2 * time.Minute
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 30
	}
	if cfg.ScrollDelay <= 0 {
		cfg.ScrollDelay = 2 * time.Second
	}
	return cfg
}

// Close cancels the allocator context.
func (s *Scraper) Close() {
	s.allocCancel()
}

// Scrape opens the search page and scrolls until limit question links are
// collected, the page stops yielding new ones, or MaxScrolls is reached.
func (s *Scraper) Scrape(ctx context.Context, params harvest.ScrapeParams) ([]harvest.ScrapedQuestion, error) {
	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavTimeout)
	defer cancel()
	// Tie the browser tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	target := scraper.SearchURL(s.cfg.SearchURL, params.Keyword, params.TimeFilter)
	if err := chromedp.Run(taskCtx,
		s.networkSetupAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, s.wrap(taskCtx, "navigate", err)
	}

	c := newCollector(params.Limit)
	for round := 0; round < s.cfg.MaxScrolls && !c.done(); round++ {
		var anchors []anchor
		if err := chromedp.Run(taskCtx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(s.cfg.ScrollDelay),
			chromedp.Evaluate(anchorsJS, &anchors),
		); err != nil {
			return nil, s.wrap(taskCtx, "scroll", err)
		}
		added := c.add(anchors)
		s.logger.Debug("scroll round",
			logging.JobID(params.JobID),
			zap.Int("round", round),
			zap.Int("added", added),
			zap.Int("collected", len(c.out)),
		)
	}
	return c.out, nil
}

func (s *Scraper) wrap(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("chromedp %s: %v: %w", step, err, scraper.ErrScrapeTimeout)
	}
	return fmt.Errorf("chromedp %s: %v: %w", step, err, scraper.ErrScrapeExit)
}

func (s *Scraper) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// collector dedupes question links across scroll rounds.
type collector struct {
	limit    int
	seen     map[string]struct{}
	out      []harvest.ScrapedQuestion
	stagnant int
}

func newCollector(limit int) *collector {
	return &collector{limit: limit, seen: make(map[string]struct{})}
}

func (c *collector) add(anchors []anchor) int {
	added := 0
	for _, a := range anchors {
		if c.full() {
			break
		}
		if _, dup := c.seen[a.Href]; dup || !scraper.IsQuestionLink(a.Text, a.Href) {
			continue
		}
		c.seen[a.Href] = struct{}{}
		c.out = append(c.out, harvest.ScrapedQuestion{Question: a.Text, Link: a.Href})
		added++
	}
	if added == 0 {
		c.stagnant++
	} else {
		c.stagnant = 0
	}
	return added
}

func (c *collector) full() bool {
	return c.limit > 0 && len(c.out) >= c.limit
}

func (c *collector) done() bool {
	return c.full() || c.stagnant >= stagnantRounds
}
