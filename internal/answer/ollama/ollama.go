// Package ollama generates answers with a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Config configures the Ollama client.
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Generator implements harvest.Generator.
type Generator struct {
	api *api.Client
	cfg Config
}

// New builds a client for cfg.BaseURL.
func New(cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &Generator{api: api.NewClient(u, &http.Client{Timeout: cfg.Timeout}), cfg: cfg}, nil
}

// Generate runs a non-streaming completion and returns the response text.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{Model: g.cfg.Model, Prompt: prompt, Stream: &stream}
	options := map[string]any{}
	if g.cfg.Temperature > 0 {
		options["temperature"] = g.cfg.Temperature
	}
	if g.cfg.MaxTokens > 0 {
		options["num_predict"] = g.cfg.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}
	var out strings.Builder
	err := g.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		out.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out.String(), nil
}
