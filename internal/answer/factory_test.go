package answer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/qa-harvester/internal/answer/claude"
	"github.com/JakeFAU/qa-harvester/internal/answer/gemini"
	"github.com/JakeFAU/qa-harvester/internal/answer/ollama"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

func TestFactoryBuildsConfiguredProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		cfg  FactoryConfig
		want any
	}{
		{FactoryConfig{Provider: "gemini", APIKey: "k"}, &gemini.Generator{}},
		{FactoryConfig{Provider: "Claude", APIKey: "k", Model: "claude-test"}, &claude.Generator{}},
		{FactoryConfig{Provider: "ollama", Model: "llama3"}, &ollama.Generator{}},
		{FactoryConfig{Provider: "offline"}, Offline{}},
	}
	for _, tc := range cases {
		f, err := NewFactory(tc.cfg)
		require.NoError(t, err)
		gen, err := f.ForUser(ctx, harvest.User{})
		require.NoError(t, err)
		require.IsType(t, tc.want, gen)
	}
}

func TestFactoryPrefersUserKey(t *testing.T) {
	t.Parallel()

	f, err := NewFactory(FactoryConfig{Provider: "gemini"})
	require.NoError(t, err)

	_, err = f.ForUser(context.Background(), harvest.User{})
	require.ErrorIs(t, err, harvest.ErrExternal)

	gen, err := f.ForUser(context.Background(), harvest.User{APIKey: "user-key"})
	require.NoError(t, err)
	require.NotNil(t, gen)
}

func TestNewFactoryRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(FactoryConfig{Provider: "gpt"})
	require.Error(t, err)
}

func TestOfflineGenerator(t *testing.T) {
	t.Parallel()

	text, err := Offline{}.Generate(context.Background(), BuildPrompt("What is Go?"))
	require.NoError(t, err)
	require.Contains(t, text, `"What is Go?"`)
}
