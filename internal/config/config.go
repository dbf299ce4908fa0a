package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds all process-level configuration for the tutor server.
// Stage bindings (prompt, provider, model) live in the agent config file
// referenced by AgentConfigPath.
type Config struct {
	Port            int
	Version         string
	AgentConfigPath string
	LogLevel        string
	Providers       ProviderConfig
	Sessions        SessionConfig
	Guardrails      GuardrailConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Secrets         SecretsConfig
	Telemetry       TelemetryConfig
}

type ProviderConfig struct {
	// Timeout bounds each outbound model call.
	Timeout       time.Duration
	OpenAIBaseURL string
	GeminiBaseURL string
}

type SessionConfig struct {
	MaxTurns      int
	TTL           time.Duration
	SweepInterval time.Duration
}

type GuardrailConfig struct {
	MaxMessageChars       int
	InjectionSensitivity  string
	InjectionCheckEnabled bool
}

type RateLimitConfig struct {
	// RequestsPerSecond of 0 disables limiting.
	RequestsPerSecond float64
	Burst             int
}

type CORSConfig struct {
	AllowedOrigins []string
	// AllowCredentials requires explicit origins; browsers refuse
	// credentialed responses to a wildcard origin.
	AllowCredentials bool
}

type SecretsConfig struct {
	// AWSEnabled allows falling back to AWS Secrets Manager when an API key
	// is not present in the environment.
	AWSEnabled bool
	AWSRegion  string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	version := envStr("TUTOR_VERSION", "0.1.0")
	return &Config{
		Port:            envInt("TUTOR_PORT", 8080),
		Version:         version,
		AgentConfigPath: envStr("TUTOR_AGENT_CONFIG", "agent_config.json"),
		LogLevel:        envStr("LOGGING_LEVEL", "info"),
		Providers: ProviderConfig{
			Timeout:       envDuration("TUTOR_PROVIDER_TIMEOUT", 60*time.Second),
			OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
			GeminiBaseURL: envStr("GEMINI_BASE_URL", ""),
		},
		Sessions: SessionConfig{
			MaxTurns:      envInt("TUTOR_HISTORY_MAX_TURNS", 20),
			TTL:           envDuration("TUTOR_SESSION_TTL", 2*time.Hour),
			SweepInterval: envDuration("TUTOR_SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Guardrails: GuardrailConfig{
			MaxMessageChars:       envInt("TUTOR_MAX_MESSAGE_CHARS", 1000),
			InjectionSensitivity:  envStr("TUTOR_INJECTION_SENSITIVITY", "medium"),
			InjectionCheckEnabled: envBool("TUTOR_INJECTION_CHECK", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloat("TUTOR_RATE_LIMIT_RPS", 0),
			Burst:             envInt("TUTOR_RATE_LIMIT_BURST", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins:   envList("TUTOR_CORS_ORIGINS", []string{"*"}),
			AllowCredentials: envBool("TUTOR_CORS_ALLOW_CREDENTIALS", false),
		},
		Secrets: SecretsConfig{
			AWSEnabled: envBool("TUTOR_AWS_SECRETS", true),
			AWSRegion:  envStr("AWS_REGION", "eu-central-1"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "tutor-pipeline"),
			Version:      version,
		},
	}
}

// Validate checks the values Load cannot repair with a default.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("TUTOR_PORT out of range: %d", c.Port)
	}
	if c.AgentConfigPath == "" {
		return fmt.Errorf("TUTOR_AGENT_CONFIG cannot be empty")
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("TUTOR_PROVIDER_TIMEOUT must be > 0")
	}
	if c.Sessions.MaxTurns <= 0 {
		return fmt.Errorf("TUTOR_HISTORY_MAX_TURNS must be > 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("TUTOR_RATE_LIMIT_RPS must be >= 0")
	}
	if c.CORS.AllowCredentials && slices.Contains(c.CORS.AllowedOrigins, "*") {
		return fmt.Errorf("TUTOR_CORS_ALLOW_CREDENTIALS needs explicit TUTOR_CORS_ORIGINS, not *")
	}
	switch c.Guardrails.InjectionSensitivity {
	case "medium", "high":
	default:
		return fmt.Errorf("TUTOR_INJECTION_SENSITIVITY must be medium or high, got %q", c.Guardrails.InjectionSensitivity)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
