package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"gemma3:27b", "gpt-oss:20b", "medgemma:27b"}, cfg.CouncilModels)
	assert.Equal(t, "gemma3:27b", cfg.ChairmanModel)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, 300*time.Second, cfg.ModelTimeout)
	assert.Equal(t, ":8001", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, "data/council.db", cfg.DatabasePath)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LLM_COUNCIL_COUNCIL_MODELS", "llama3,mistral")
	t.Setenv("LLM_COUNCIL_CHAIRMAN_MODEL", "llama3")
	t.Setenv("LLM_COUNCIL_MODEL_TIMEOUT", "45s")
	t.Setenv("LLM_COUNCIL_SHUFFLE_LABELS", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "mistral"}, cfg.CouncilModels)
	assert.Equal(t, "llama3", cfg.ChairmanModel)
	assert.Equal(t, 45*time.Second, cfg.ModelTimeout)
	assert.True(t, cfg.ShuffleLabels)
}

func TestParseConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
council_models: [qwen3:8b, phi4]
chairman_model: qwen3:8b
model_timeout: 2m
`), 0o600))
	t.Setenv("LLM_COUNCIL_CHAIRMAN_MODEL", "from-env")

	var addr string
	cfg, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-config", path, "-chairman", "from-flag", "-addr", ":9000"},
		func(c *Config, fs *flag.FlagSet) { fs.StringVar(&addr, "addr", c.HTTPAddr, "") })
	require.NoError(t, err)

	assert.Equal(t, []string{"qwen3:8b", "phi4"}, cfg.CouncilModels, "file overrides defaults")
	assert.Equal(t, 2*time.Minute, cfg.ModelTimeout)
	assert.Equal(t, "from-flag", cfg.ChairmanModel, "flags override file and env")
	assert.Equal(t, ":9000", addr)
}

func TestParseConfigModelsFlag(t *testing.T) {
	cfg, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-models", "a, b,,c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.CouncilModels)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	require.Error(t, err)

	_, err = ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-models", " , "}, nil)
	require.Error(t, err)

	_, err = ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-timeout", "0s"}, nil)
	require.Error(t, err)

	_, err = ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-models", "llama3,mistral,llama3"}, nil)
	require.ErrorContains(t, err, "more than once")
}

func TestSettings(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	s := NewSettings(cfg)

	snap := s.Snapshot()
	snap.CouncilModels[0] = "mutated"
	assert.Equal(t, "gemma3:27b", s.Snapshot().CouncilModels[0], "snapshots are copies")

	updated, err := s.Update([]string{"llama3"}, "llama3")
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3"}, updated.CouncilModels)
	assert.Equal(t, "llama3", s.Snapshot().ChairmanModel)

	_, err = s.Update(nil, "llama3")
	require.Error(t, err)
	_, err = s.Update([]string{"llama3"}, "")
	require.Error(t, err)
	_, err = s.Update([]string{"llama3", "llama3"}, "llama3")
	require.Error(t, err)
	assert.Equal(t, []string{"llama3"}, s.Snapshot().CouncilModels, "rejected update leaves settings untouched")
}

func TestSettings_RouteCheck(t *testing.T) {
	s := NewSettings(Config{CouncilModels: []string{"llama3"}, ChairmanModel: "llama3"},
		WithRouteCheck(func(model string) error {
			if strings.HasPrefix(model, "openai/") {
				return errors.New("no provider configured for openai/")
			}
			return nil
		}))

	_, err := s.Update([]string{"llama3", "openai/gpt-4.1-mini"}, "llama3")
	require.ErrorContains(t, err, "openai/gpt-4.1-mini")
	_, err = s.Update([]string{"llama3"}, "openai/gpt-4.1-mini")
	require.Error(t, err)
	assert.Equal(t, "llama3", s.Snapshot().ChairmanModel)

	_, err = s.Update([]string{"llama3", "mistral"}, "mistral")
	require.NoError(t, err)
}

func TestSettings_TitleModel(t *testing.T) {
	s := NewSettings(Config{CouncilModels: []string{"llama3", "mistral"}, ChairmanModel: "llama3"})
	assert.Equal(t, "llama3", s.TitleModel())

	_, err := s.Update([]string{"llama3", "mistral"}, "mistral")
	require.NoError(t, err)
	assert.Equal(t, "mistral", s.TitleModel(), "follows the chairman")

	pinned := NewSettings(Config{CouncilModels: []string{"llama3"}, ChairmanModel: "llama3", TitleModel: "phi4"})
	_, err = pinned.Update([]string{"llama3"}, "mistral")
	require.NoError(t, err)
	assert.Equal(t, "phi4", pinned.TitleModel())
}
