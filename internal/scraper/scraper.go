// Package scraper holds the contract shared by the question scraper adapters
// and the checks the job pipeline applies to their output.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// Failure subtypes. Every adapter wraps them with harvest.External so the job
// pipeline sees one "scrape failed" outcome while logs keep the detail.
var (
	ErrScrapeExit    = errors.New("scraper exited with failure")
	ErrScrapeOutput  = errors.New("scraper output malformed")
	ErrScrapeTimeout = errors.New("scraper timed out")
)

// DefaultSearchURL is the Quora question search used by the browser adapters.
const DefaultSearchURL = "https://www.quora.com/search?q=%s&type=question"

// Finalize trims, truncates to limit, and validates raw scraper output. A
// single malformed pair rejects the whole batch.
func Finalize(raw []harvest.ScrapedQuestion, limit int) ([]harvest.ScrapedQuestion, error) {
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	out := make([]harvest.ScrapedQuestion, 0, len(raw))
	for i, pair := range raw {
		pair.Question = strings.TrimSpace(pair.Question)
		pair.Link = strings.TrimSpace(pair.Link)
		if pair.Question == "" {
			return nil, fmt.Errorf("pair %d: empty question text: %w", i, ErrScrapeOutput)
		}
		if !validLink(pair.Link) {
			return nil, fmt.Errorf("pair %d: invalid link %q: %w", i, pair.Link, ErrScrapeOutput)
		}
		out = append(out, pair)
	}
	return out, nil
}

func validLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SearchURL fills a search URL template with the keyword and appends the time
// filter unless it is empty or "all-time".
func SearchURL(template, keyword, timeFilter string) string {
	if template == "" {
		template = DefaultSearchURL
	}
	out := fmt.Sprintf(template, url.QueryEscape(keyword))
	if f := strings.ToLower(strings.TrimSpace(timeFilter)); f != "" && f != "all-time" {
		out += "&time=" + url.QueryEscape(f)
	}
	return out
}

// IsQuestionLink reports whether an anchor on a search page points at a
// question: a single-segment path on the question host, not a profile, topic
// or answer page, with anchor text longer than four words.
func IsQuestionLink(text, href string) bool {
	if len(strings.Fields(text)) <= 4 {
		return false
	}
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Host, "quora.com") {
		return false
	}
	for _, skip := range []string{"/profile/", "/topic/", "/answer"} {
		if strings.Contains(u.Path, skip) {
			return false
		}
	}
	path := strings.Trim(u.Path, "/")
	return path != "" && !strings.Contains(path, "/")
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9 -]`)
	slugSpace   = regexp.MustCompile(`\s+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify lowercases text and reduces it to dash-separated alphanumerics.
func Slugify(text string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(text), "")
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
