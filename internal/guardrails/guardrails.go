// Package guardrails evaluates the learner's message before any model is
// called.
//
// Supported guardrail kinds:
//   - max_length: character/word length limits
//   - prompt_injection: heuristic prompt injection detection
//   - control_token: rejects messages that smuggle in the pipeline's own control cues
package guardrails

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kielitutor/tutor/pkg/models"
)

// ── Guardrail Service ───────────────────────────────────────

// Service is the implementation of contracts.GuardrailService.
type Service struct {
	guardrails []models.Guardrail
}

// Options configures the default guardrail set.
type Options struct {
	MaxCharacters  int
	InjectionCheck bool
	Sensitivity    string // "medium" or "high"
	ControlTokens  []string
}

// NewService builds the guardrail set described by opts.
func NewService(opts Options) *Service {
	gs := []models.Guardrail{
		{
			Kind:    models.GuardrailMaxLength,
			Enabled: opts.MaxCharacters > 0,
			Config:  map[string]interface{}{"max_characters": opts.MaxCharacters},
		},
		{
			Kind:    models.GuardrailPromptInjection,
			Enabled: opts.InjectionCheck,
			Config:  map[string]interface{}{"sensitivity": opts.Sensitivity},
		},
	}
	if len(opts.ControlTokens) > 0 {
		tokens := make([]interface{}, len(opts.ControlTokens))
		for i, t := range opts.ControlTokens {
			tokens[i] = t
		}
		gs = append(gs, models.Guardrail{
			Kind:    models.GuardrailControlToken,
			Enabled: true,
			Config:  map[string]interface{}{"tokens": tokens},
		})
	}
	return NewServiceWith(gs)
}

// NewServiceWith creates a service over an explicit guardrail list.
func NewServiceWith(guardrails []models.Guardrail) *Service {
	return &Service{guardrails: guardrails}
}

// Guardrails returns the configured rules.
func (s *Service) Guardrails() []models.Guardrail { return s.guardrails }

// EvaluateInput runs every enabled guardrail against the learner message.
func (s *Service) EvaluateInput(_ context.Context, message string) (*models.GuardrailEvaluation, error) {
	eval := &models.GuardrailEvaluation{
		Passed:  true,
		Results: make([]models.GuardrailResult, 0, len(s.guardrails)),
	}

	for _, g := range s.guardrails {
		if !g.Enabled {
			continue
		}
		result := evaluateOne(g, message)
		eval.Results = append(eval.Results, result)
		if !result.Passed {
			eval.Passed = false
		}
	}

	return eval, nil
}

// evaluateOne dispatches a single guardrail evaluation.
func evaluateOne(g models.Guardrail, text string) models.GuardrailResult {
	switch g.Kind {
	case models.GuardrailMaxLength:
		return evalMaxLength(g, text)
	case models.GuardrailPromptInjection:
		return evalPromptInjection(g, text)
	case models.GuardrailControlToken:
		return evalControlToken(g, text)
	default:
		return models.GuardrailResult{Passed: true, Kind: g.Kind, Message: "unknown guardrail kind"}
	}
}

// ── Max Length ───────────────────────────────────────────────
// Config: { "max_characters": 1000, "max_words": 200 }

func evalMaxLength(g models.Guardrail, text string) models.GuardrailResult {
	if maxChars, ok := getIntConfig(g.Config, "max_characters"); ok && maxChars > 0 {
		if utf8.RuneCountInString(text) > maxChars {
			return models.GuardrailResult{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Message exceeds maximum character limit",
			}
		}
	}

	if maxWords, ok := getIntConfig(g.Config, "max_words"); ok && maxWords > 0 {
		if len(strings.Fields(text)) > maxWords {
			return models.GuardrailResult{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Message exceeds maximum word limit",
			}
		}
	}

	return models.GuardrailResult{Passed: true, Kind: g.Kind}
}

// ── Prompt Injection ────────────────────────────────────────
// Config: { "sensitivity": "medium" | "high" }

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	// Finnish: "unohda (kaikki) aiemmat/edelliset ohjeet", "älä välitä ohjeista"
	regexp.MustCompile(`(?i)unohda\s+(kaikki\s+)?(aiemmat|edelliset|aikaisemmat)\s+ohjeet`),
	regexp.MustCompile(`(?i)älä\s+välitä\s+(aiemmista\s+|edellisistä\s+)?ohjeista`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?|rules?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
	regexp.MustCompile(`(?i)(näytä|kerro)\s+(sinun\s+)?(järjestelmä)?(kehotteesi|ohjeesi)`),
}

func evalPromptInjection(g models.Guardrail, text string) models.GuardrailResult {
	sensitivity, _ := g.Config["sensitivity"].(string)
	if sensitivity == "" {
		sensitivity = "medium"
	}

	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return models.GuardrailResult{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Potential prompt injection detected",
			}
		}
	}

	if sensitivity == "high" {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return models.GuardrailResult{
					Passed:  false,
					Kind:    g.Kind,
					Message: "Potential prompt injection detected (high sensitivity)",
				}
			}
		}
	}

	return models.GuardrailResult{Passed: true, Kind: g.Kind}
}

// ── Control Token ───────────────────────────────────────────
// Config: { "tokens": ["[START_CONVERSATION]"] }

func evalControlToken(g models.Guardrail, text string) models.GuardrailResult {
	tokens, _ := g.Config["tokens"].([]interface{})
	upper := strings.ToUpper(text)
	for _, raw := range tokens {
		tok, ok := raw.(string)
		if !ok || tok == "" {
			continue
		}
		if strings.Contains(upper, strings.ToUpper(tok)) {
			return models.GuardrailResult{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Message contains a reserved control sequence",
			}
		}
	}
	return models.GuardrailResult{Passed: true, Kind: g.Kind}
}

// ── Helpers ─────────────────────────────────────────────────

// getIntConfig extracts an integer from a config map (handles float64 from JSON).
func getIntConfig(config map[string]interface{}, key string) (int, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
