// Package agents loads the declarative agent configuration that binds each
// pipeline stage to a prompt template, a provider and a model.
//
// The file maps stage names to stage settings:
//
//	{
//	  "teacher_agent":   {"prompt_path": "prompts/teacher_prompt.md", "model_type": "openai", "model_id": "gpt-4o", "agent_type": "text"},
//	  "extractor_agent": {"prompt_path": "prompts/extractor_prompt.md", "model_type": "gemini", "agent_type": "content"}
//	}
//
// JSON and YAML are both accepted. Prompt paths are resolved relative to the
// directory holding the configuration file.
package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kielitutor/tutor/internal/prompts"
	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultVariables are rendered into every prompt unless a stage overrides
// them. Keys are lowercase, matching how viper reads the "variables" table.
var DefaultVariables = map[string]string{
	"target_language":  "Finnish",
	"learner_language": "English",
	"topics": "shopping at the grocery store; ordering at a café; asking for directions; " +
		"visiting the doctor; planning the weekend; taking public transport; " +
		"checking in at a hotel; meeting a new neighbour",
}

// stageFile is one stage entry as written in the configuration file.
type stageFile struct {
	PromptPath   string            `mapstructure:"prompt_path"`
	ModelType    string            `mapstructure:"model_type"`
	ModelID      string            `mapstructure:"model_id"`
	AgentType    string            `mapstructure:"agent_type"`
	APIKey       string            `mapstructure:"api_key"`
	APIKeySecret string            `mapstructure:"api_key_secret"`
	Temperature  *float64          `mapstructure:"temperature"`
	MaxTokens    *int              `mapstructure:"max_tokens"`
	Variables    map[string]string `mapstructure:"variables"`
}

// Configuration is the validated, immutable stage table plus the rendered
// system prompt of every stage.
type Configuration struct {
	Path    string
	stages  map[string]*models.AgentConfig
	prompts map[string]string
}

// Load reads, validates and renders the configuration at path.
// Every failure is a *models.ConfigurationError.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigurationError{Reason: "read agent config " + path, Err: err}
	}

	var raw map[string]stageFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, &models.ConfigurationError{Reason: "decode agent config " + path, Err: err}
	}

	cfg := &Configuration{
		Path:    path,
		stages:  make(map[string]*models.AgentConfig, len(raw)),
		prompts: make(map[string]string, len(raw)),
	}
	store := prompts.NewStore(filepath.Dir(path))

	for name, sf := range raw {
		stage, err := buildStage(name, sf)
		if err != nil {
			return nil, err
		}

		p, err := store.Load(stage.PromptPath)
		if err != nil {
			return nil, &models.ConfigurationError{Stage: name, Reason: "load prompt", Err: err}
		}
		rendered, err := p.Render(mergeVariables(stage.Variables))
		if err != nil {
			return nil, &models.ConfigurationError{Stage: name, Reason: "render prompt", Err: err}
		}

		cfg.stages[name] = stage
		cfg.prompts[name] = rendered
	}

	for _, name := range models.RequiredStages {
		if _, ok := cfg.stages[name]; !ok {
			return nil, &models.ConfigurationError{Stage: name, Reason: "stage not configured"}
		}
	}
	if mode := cfg.stages[models.StageExtractor].OutputMode; mode != models.OutputContent {
		return nil, &models.ConfigurationError{
			Stage:  models.StageExtractor,
			Reason: fmt.Sprintf("agent_type must be %q, got %q", models.OutputContent, mode),
		}
	}

	log.Info().
		Str("path", path).
		Int("stages", len(cfg.stages)).
		Msg("Agent configuration loaded")
	return cfg, nil
}

func buildStage(name string, sf stageFile) (*models.AgentConfig, error) {
	provider := models.ProviderKind(strings.ToLower(strings.TrimSpace(sf.ModelType)))
	if _, ok := models.SupportedModels[provider]; !ok {
		return nil, &models.ConfigurationError{Stage: name, Reason: fmt.Sprintf("unsupported model_type %q", sf.ModelType)}
	}

	model := strings.TrimSpace(sf.ModelID)
	if model == "" {
		model = models.DefaultModels[provider]
	}
	if !models.IsSupportedModel(provider, model) {
		return nil, &models.ConfigurationError{Stage: name, Reason: fmt.Sprintf("model %q is not supported by %s", model, provider)}
	}

	mode := models.OutputMode(strings.ToLower(strings.TrimSpace(sf.AgentType)))
	switch mode {
	case "":
		mode = models.OutputText
	case models.OutputText, models.OutputContent:
	default:
		return nil, &models.ConfigurationError{Stage: name, Reason: fmt.Sprintf("unsupported agent_type %q", sf.AgentType)}
	}

	if strings.TrimSpace(sf.PromptPath) == "" {
		return nil, &models.ConfigurationError{Stage: name, Reason: "prompt_path is required"}
	}
	if sf.Temperature != nil && (*sf.Temperature < 0 || *sf.Temperature > 2) {
		return nil, &models.ConfigurationError{Stage: name, Reason: "temperature must be within [0, 2]"}
	}
	if sf.MaxTokens != nil && *sf.MaxTokens <= 0 {
		return nil, &models.ConfigurationError{Stage: name, Reason: "max_tokens must be > 0"}
	}

	secret := sf.APIKeySecret
	if secret == "" {
		secret = models.DefaultSecretNames[provider]
	}

	return &models.AgentConfig{
		Name:         name,
		PromptPath:   sf.PromptPath,
		Provider:     provider,
		Model:        model,
		OutputMode:   mode,
		APIKeySecret: secret,
		Temperature:  sf.Temperature,
		MaxTokens:    sf.MaxTokens,
		Variables:    sf.Variables,
		APIKey:       sf.APIKey,
	}, nil
}

func mergeVariables(overrides map[string]string) map[string]string {
	vars := make(map[string]string, len(DefaultVariables)+len(overrides))
	for k, v := range DefaultVariables {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

// ResolveCredentials fills in the API key of every stage that does not inline
// one. It runs once during startup, before the configuration is shared.
func (c *Configuration) ResolveCredentials(ctx context.Context, secrets contracts.SecretResolver) error {
	for _, name := range c.Names() {
		stage := c.stages[name]
		if stage.APIKey != "" {
			continue
		}
		key, err := secrets.Resolve(ctx, stage.APIKeySecret)
		if err != nil {
			return &models.ConfigurationError{Stage: name, Reason: "resolve api key " + stage.APIKeySecret, Err: err}
		}
		stage.APIKey = key
	}
	return nil
}

// Stage returns the configuration of the named stage.
func (c *Configuration) Stage(name string) (*models.AgentConfig, error) {
	stage, ok := c.stages[name]
	if !ok {
		return nil, &models.ConfigurationError{Stage: name, Reason: "stage not configured"}
	}
	return stage, nil
}

// SystemPrompt returns the rendered prompt of the named stage.
func (c *Configuration) SystemPrompt(name string) string {
	return c.prompts[name]
}

// Names returns the configured stage names in sorted order.
func (c *Configuration) Names() []string {
	names := make([]string, 0, len(c.stages))
	for name := range c.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns copies of all stages with credentials stripped.
func (c *Configuration) List() []models.AgentConfig {
	out := make([]models.AgentConfig, 0, len(c.stages))
	for _, name := range c.Names() {
		stage := *c.stages[name]
		stage.APIKey = ""
		out = append(out, stage)
	}
	return out
}
