package agents_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kielitutor/tutor/internal/agents"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
  "teacher_agent": {
    "prompt_path": "prompts/teacher.md",
    "model_type": "openai",
    "model_id": "gpt-4o",
    "agent_type": "text",
    "temperature": 0.7
  },
  "extractor_agent": {
    "prompt_path": "prompts/extractor.md",
    "model_type": "gemini",
    "agent_type": "content",
    "api_key": "inline-key"
  }
}`

func writeFixture(t *testing.T, name, config string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "teacher.md"),
		[]byte("Opeta {{target_language}}. Aiheet: {{topics}}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "extractor.md"),
		[]byte("Return JSON only."), 0o644))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
	return path
}

func requireConfigError(t *testing.T, err error) *models.ConfigurationError {
	t.Helper()
	require.Error(t, err)
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "want ConfigurationError, got %T: %v", err, err)
	return cfgErr
}

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, name string) (string, error) {
	if v, ok := f[name]; ok {
		return v, nil
	}
	return "", errors.New("secret " + name + " not found")
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := agents.Load(writeFixture(t, "agent_config.json", validConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{models.StageExtractor, models.StageTeacher}, cfg.Names())

	teacher, err := cfg.Stage(models.StageTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, teacher.Provider)
	assert.Equal(t, models.OutputText, teacher.OutputMode)
	assert.Equal(t, "OpenAIApiKey", teacher.APIKeySecret)
	require.NotNil(t, teacher.Temperature)
	assert.InDelta(t, 0.7, *teacher.Temperature, 1e-9)

	extractor, err := cfg.Stage(models.StageExtractor)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", extractor.Model, "omitted model_id takes the provider default")
	assert.Equal(t, models.OutputContent, extractor.OutputMode)

	prompt := cfg.SystemPrompt(models.StageTeacher)
	assert.Contains(t, prompt, "Opeta Finnish.")
	assert.NotContains(t, prompt, "{{")
}

func TestLoad_YAMLWithVariableOverride(t *testing.T) {
	yaml := `
teacher_agent:
  prompt_path: prompts/teacher.md
  model_type: gemini
  model_id: gemini-2.5-pro
  variables:
    topics: at the sauna
extractor_agent:
  prompt_path: prompts/extractor.md
  model_type: openai
  model_id: gpt-4o-mini
  agent_type: content
`
	cfg, err := agents.Load(writeFixture(t, "agent_config.yaml", yaml))
	require.NoError(t, err)
	assert.Contains(t, cfg.SystemPrompt(models.StageTeacher), "Aiheet: at the sauna")
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		config string
		stage  string
	}{
		{
			name:   "missing extractor",
			config: `{"teacher_agent": {"prompt_path": "prompts/teacher.md", "model_type": "openai"}}`,
			stage:  models.StageExtractor,
		},
		{
			name: "unsupported provider",
			config: `{"teacher_agent": {"prompt_path": "prompts/teacher.md", "model_type": "bedrock"},
			          "extractor_agent": {"prompt_path": "prompts/extractor.md", "model_type": "openai", "agent_type": "content"}}`,
			stage: models.StageTeacher,
		},
		{
			name: "unsupported model",
			config: `{"teacher_agent": {"prompt_path": "prompts/teacher.md", "model_type": "openai", "model_id": "gemini-2.5-pro"},
			          "extractor_agent": {"prompt_path": "prompts/extractor.md", "model_type": "openai", "agent_type": "content"}}`,
			stage: models.StageTeacher,
		},
		{
			name: "missing prompt file",
			config: `{"teacher_agent": {"prompt_path": "prompts/nope.md", "model_type": "openai"},
			          "extractor_agent": {"prompt_path": "prompts/extractor.md", "model_type": "openai", "agent_type": "content"}}`,
			stage: models.StageTeacher,
		},
		{
			name: "extractor in text mode",
			config: `{"teacher_agent": {"prompt_path": "prompts/teacher.md", "model_type": "openai"},
			          "extractor_agent": {"prompt_path": "prompts/extractor.md", "model_type": "openai", "agent_type": "text"}}`,
			stage: models.StageExtractor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agents.Load(writeFixture(t, "agent_config.json", tt.config))
			cfgErr := requireConfigError(t, err)
			assert.Equal(t, tt.stage, cfgErr.Stage)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := agents.Load(filepath.Join(t.TempDir(), "agent_config.json"))
	requireConfigError(t, err)
}

func TestResolveCredentials(t *testing.T) {
	cfg, err := agents.Load(writeFixture(t, "agent_config.json", validConfig))
	require.NoError(t, err)

	err = cfg.ResolveCredentials(context.Background(), fakeSecrets{"OpenAIApiKey": "sk-test"})
	require.NoError(t, err)

	teacher, _ := cfg.Stage(models.StageTeacher)
	assert.Equal(t, "sk-test", teacher.APIKey)
	extractor, _ := cfg.Stage(models.StageExtractor)
	assert.Equal(t, "inline-key", extractor.APIKey, "inline key wins over the resolver")

	for _, stage := range cfg.List() {
		assert.Empty(t, stage.APIKey, "List must not expose credentials")
	}
}

func TestResolveCredentials_Missing(t *testing.T) {
	cfg, err := agents.Load(writeFixture(t, "agent_config.json", validConfig))
	require.NoError(t, err)

	err = cfg.ResolveCredentials(context.Background(), fakeSecrets{})
	cfgErr := requireConfigError(t, err)
	assert.Equal(t, models.StageTeacher, cfgErr.Stage)
}
