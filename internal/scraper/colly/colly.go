// Package collyscraper scrapes question links from a static search results page.
package collyscraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	SearchURL string
	// LinkPattern, when set, replaces the default question-link heuristic.
	LinkPattern string
	UserAgent   string
	Timeout     time.Duration
}

// Scraper implements harvest.Scraper using the Colly collector.
type Scraper struct {
	cfg           Config
	pattern       *regexp.Regexp
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, logger *zap.Logger) (*Scraper, error) {
	var pattern *regexp.Regexp
	if cfg.LinkPattern != "" {
		p, err := regexp.Compile(cfg.LinkPattern)
		if err != nil {
			return nil, fmt.Errorf("compile link pattern: %w", err)
		}
		pattern = p
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Scraper{
		cfg:           cfg,
		pattern:       pattern,
		baseCollector: c,
		logger:        logging.OrNop(logger).Named("scraper.colly"),
	}, nil
}

// Scrape fetches one search page and returns matching anchors in page order.
func (s *Scraper) Scrape(ctx context.Context, params harvest.ScrapeParams) ([]harvest.ScrapedQuestion, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	var (
		out      []harvest.ScrapedQuestion
		seen     = make(map[string]struct{})
		fetchErr error
	)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if params.Limit > 0 && len(out) >= params.Limit {
			return
		}
		text := strings.Join(strings.Fields(e.Text), " ")
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if _, dup := seen[href]; dup || !s.matches(text, href) {
			return
		}
		seen[href] = struct{}{}
		out = append(out, harvest.ScrapedQuestion{Question: text, Link: href})
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	target := scraper.SearchURL(s.cfg.SearchURL, params.Keyword, params.TimeFilter)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly scrape canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %v: %w", fetchErr, scraper.ErrScrapeExit)
		}
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %v: %w", err, scraper.ErrScrapeExit)
		}
	}
	s.logger.Debug("search page scraped", logging.JobID(params.JobID), zap.Int("questions", len(out)))
	return out, nil
}

func (s *Scraper) matches(text, href string) bool {
	if s.pattern != nil {
		return text != "" && s.pattern.MatchString(href)
	}
	return scraper.IsQuestionLink(text, href)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
