// Package template implements an offline scraper that expands topic-specific
// question templates. It backs local runs and demos.
package template

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/scraper"
)

var templates = map[string][]string{
	"mental-health": {
		"How can I manage %s effectively?",
		"What are the best strategies for dealing with %s?",
		"How do I overcome %s in daily life?",
		"What professional help is available for %s?",
		"How can I support someone dealing with %s?",
		"What are the signs that %s is affecting my life?",
		"How do I maintain mental health while dealing with %s?",
		"What lifestyle changes help with %s?",
	},
	"business": {
		"How do I start a %s business?",
		"What are the key factors for %s success?",
		"How can I scale my %s business?",
		"What are common mistakes in %s business?",
		"How do I market my %s business effectively?",
		"What funding options are available for %s startups?",
		"How do I compete in the %s market?",
		"What legal considerations should I know about %s business?",
	},
	"technology": {
		"How does %s technology work?",
		"What are the latest trends in %s?",
		"How can I learn %s programming?",
		"What are the career opportunities in %s?",
		"How do I implement %s in my project?",
		"What are the pros and cons of %s?",
		"How is %s changing the industry?",
		"What skills do I need for %s development?",
	},
	"relationships": {
		"How do I handle %s in my relationship?",
		"What are healthy ways to deal with %s?",
		"How can I communicate better about %s?",
		"What are red flags related to %s?",
		"How do I support my partner through %s?",
		"When should I seek help for %s issues?",
		"How do I set boundaries around %s?",
		"What are effective strategies for %s resolution?",
	},
	"health-fitness": {
		"How can I improve my %s?",
		"What exercises are best for %s?",
		"How do I maintain %s long-term?",
		"What diet supports %s?",
		"How do I track progress in %s?",
		"What are common mistakes in %s?",
		"How do I stay motivated with %s?",
		"What equipment do I need for %s?",
	},
	"education": {
		"How do I learn %s effectively?",
		"What are the best resources for %s?",
		"How can I improve my %s skills?",
		"What career paths involve %s?",
		"How do I teach %s to others?",
		"What are the fundamentals of %s?",
		"How do I practice %s daily?",
		"What certifications are available for %s?",
	},
	"career": {
		"How do I advance my career in %s?",
		"What skills are essential for %s jobs?",
		"How do I transition to a %s career?",
		"What are the salary expectations for %s?",
		"How do I network in the %s industry?",
		"What are the growth opportunities in %s?",
		"How do I prepare for %s interviews?",
		"What are the challenges in %s careers?",
	},
	"finance": {
		"How do I manage my %s finances?",
		"What are the best %s investment strategies?",
		"How can I save money on %s?",
		"What are the tax implications of %s?",
		"How do I budget for %s?",
		"What are the risks of %s investments?",
		"How do I plan for %s expenses?",
		"What financial tools help with %s?",
	},
}

var fallback = []string{
	"How do I get started with %s?",
	"What are the best practices for %s?",
	"How can I improve my %s skills?",
	"What are common challenges with %s?",
	"How do I choose the right %s approach?",
}

// Scraper implements harvest.Scraper without touching the network.
type Scraper struct {
	delay time.Duration
}

// New builds a Scraper that waits delay before answering, to mimic a real run.
func New(delay time.Duration) *Scraper {
	return &Scraper{delay: delay}
}

// Scrape expands the topic's templates with the keyword. Unknown topics use a
// generic set. Links are slugified from the question text.
func (s *Scraper) Scrape(ctx context.Context, params harvest.ScrapeParams) ([]harvest.ScrapedQuestion, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("template scrape canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	set, ok := templates[strings.ToLower(params.Topic)]
	if !ok {
		set = fallback
	}
	if params.Limit > 0 && params.Limit < len(set) {
		set = set[:params.Limit]
	}
	out := make([]harvest.ScrapedQuestion, 0, len(set))
	for i, tmpl := range set {
		text := fmt.Sprintf(tmpl, params.Keyword)
		out = append(out, harvest.ScrapedQuestion{
			Question: text,
			Link:     fmt.Sprintf("https://quora.com/%s-%d", scraper.Slugify(text), i+1),
		})
	}
	return out, nil
}
