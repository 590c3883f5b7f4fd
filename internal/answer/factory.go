package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/qa-harvester/internal/answer/claude"
	"github.com/JakeFAU/qa-harvester/internal/answer/gemini"
	"github.com/JakeFAU/qa-harvester/internal/answer/ollama"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// Supported generator providers.
const (
	ProviderGemini  = "gemini"
	ProviderClaude  = "claude"
	ProviderOllama  = "ollama"
	ProviderOffline = "offline"
)

// FactoryConfig mirrors the generator section of the service config.
type FactoryConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Factory builds a generator per job owner. A key stored on the user
// overrides the configured one.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory validates the provider name.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch cfg.Provider {
	case ProviderGemini, ProviderClaude, ProviderOllama, ProviderOffline:
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	return &Factory{cfg: cfg}, nil
}

// Provider returns the configured provider name, used as the rate-limit key.
func (f *Factory) Provider() string {
	return f.cfg.Provider
}

// ForUser implements harvest.GeneratorFactory.
func (f *Factory) ForUser(ctx context.Context, user harvest.User) (harvest.Generator, error) {
	key := f.cfg.APIKey
	if user.APIKey != "" {
		key = user.APIKey
	}
	switch f.cfg.Provider {
	case ProviderGemini:
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:      key,
			Model:       f.cfg.Model,
			BaseURL:     f.cfg.BaseURL,
			Temperature: f.cfg.Temperature,
			MaxTokens:   f.cfg.MaxTokens,
		})
		if err != nil {
			return nil, harvest.External("build gemini generator", err)
		}
		return g, nil
	case ProviderClaude:
		g, err := claude.New(claude.Config{
			APIKey:      key,
			Model:       f.cfg.Model,
			BaseURL:     f.cfg.BaseURL,
			Temperature: f.cfg.Temperature,
			MaxTokens:   f.cfg.MaxTokens,
		})
		if err != nil {
			return nil, harvest.External("build claude generator", err)
		}
		return g, nil
	case ProviderOllama:
		g, err := ollama.New(ollama.Config{
			BaseURL:     f.cfg.BaseURL,
			Model:       f.cfg.Model,
			Timeout:     f.cfg.Timeout,
			Temperature: f.cfg.Temperature,
			MaxTokens:   f.cfg.MaxTokens,
		})
		if err != nil {
			return nil, harvest.External("build ollama generator", err)
		}
		return g, nil
	default:
		return Offline{}, nil
	}
}

// Offline answers without calling a model. It backs local runs and demos.
type Offline struct{}

// Generate echoes the question back inside a fixed answer.
func (Offline) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question := prompt
	if i := strings.LastIndex(prompt, "Question: "); i >= 0 {
		question = prompt[i+len("Question: "):]
	}
	return fmt.Sprintf("This is a placeholder answer to %q. Configure a generator provider to produce real answers.", question), nil
}
