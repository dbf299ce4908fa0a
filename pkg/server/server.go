// Package server provides the public entry point for initializing the tutor
// pipeline server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//
// Callers that only need the pipeline (the tutorctl CLI) use NewCore.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kielitutor/tutor/internal/agents"
	"github.com/kielitutor/tutor/internal/api"
	"github.com/kielitutor/tutor/internal/api/handlers"
	"github.com/kielitutor/tutor/internal/config"
	"github.com/kielitutor/tutor/internal/guardrails"
	"github.com/kielitutor/tutor/internal/pipeline"
	"github.com/kielitutor/tutor/internal/retention"
	modelrouter "github.com/kielitutor/tutor/internal/router"
	"github.com/kielitutor/tutor/internal/secrets"
	"github.com/kielitutor/tutor/internal/sessions"
	"github.com/kielitutor/tutor/internal/telemetry"
	"github.com/kielitutor/tutor/pkg/contracts"

	"github.com/rs/zerolog/log"
)

// Core is the pipeline and everything it is assembled from.
type Core struct {
	Agents   *agents.Configuration
	Router   *modelrouter.ModelRouter
	Sessions *sessions.MemorySessionStore
	Pipeline *pipeline.Pipeline
}

// Server holds the initialized tutor server.
type Server struct {
	*Core

	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Janitor purges idle sessions. Start it with the server's lifetime context.
	Janitor *retention.Janitor

	Config *config.Config
	Port   int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
// Any configuration error is fatal: the server never starts half-configured.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	core, err := NewCore(ctx, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	janitor := retention.NewJanitor(core.Sessions, cfg.Sessions.SweepInterval)

	h := handlers.New(core.Pipeline, core.Sessions, core.Agents, core.Router)
	router := api.NewRouter(cfg, h)

	return &Server{
		Core:         core,
		Handler:      router,
		Janitor:      janitor,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// NewCore loads the agent configuration, resolves credentials and assembles
// the pipeline.
func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	agentCfg, err := LoadAgents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Strs("stages", agentCfg.Names()).Msg("Stage credentials resolved")

	mr := modelrouter.NewModelRouter(modelrouter.Options{
		Timeout:       cfg.Providers.Timeout,
		OpenAIBaseURL: cfg.Providers.OpenAIBaseURL,
		GeminiBaseURL: cfg.Providers.GeminiBaseURL,
	})
	for _, stage := range agentCfg.List() {
		if err := mr.Validate(stage.Provider, stage.Model); err != nil {
			return nil, err
		}
	}
	log.Info().Int("drivers", len(mr.ListDrivers())).Dur("timeout", cfg.Providers.Timeout).Msg("Model Router initialized")

	store := sessions.NewMemorySessionStore(cfg.Sessions.MaxTurns, cfg.Sessions.TTL)

	guard := guardrails.NewService(guardrails.Options{
		MaxCharacters:  cfg.Guardrails.MaxMessageChars,
		InjectionCheck: cfg.Guardrails.InjectionCheckEnabled,
		Sensitivity:    cfg.Guardrails.InjectionSensitivity,
		ControlTokens:  []string{pipeline.InitiationCue},
	})

	p, err := pipeline.New(agentCfg, mr, pipeline.Options{
		Sessions:   store,
		Guardrails: guard,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Tutor pipeline initialized")

	return &Core{
		Agents:   agentCfg,
		Router:   mr,
		Sessions: store,
		Pipeline: p,
	}, nil
}

// LoadAgents reads the agent configuration file and resolves every stage's
// API key.
func LoadAgents(ctx context.Context, cfg *config.Config) (*agents.Configuration, error) {
	agentCfg, err := agents.Load(cfg.AgentConfigPath)
	if err != nil {
		return nil, err
	}
	if err := agentCfg.ResolveCredentials(ctx, NewSecretResolver(ctx, cfg.Secrets)); err != nil {
		return nil, err
	}
	return agentCfg, nil
}

// NewSecretResolver returns an environment resolver, backed by AWS Secrets
// Manager when enabled and an AWS configuration can be loaded.
func NewSecretResolver(ctx context.Context, cfg config.SecretsConfig) contracts.SecretResolver {
	if !cfg.AWSEnabled {
		return secrets.NewResolver(nil)
	}
	r, err := secrets.NewAWSResolver(ctx, cfg.AWSRegion)
	if err != nil {
		log.Warn().Err(err).Msg("AWS Secrets Manager unavailable, using environment only")
		return secrets.NewResolver(nil)
	}
	return r
}
