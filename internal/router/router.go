// Package router implements the Model Client Adapter.
//
// The router holds one driver per hosted provider, validates the requested
// provider/model pair against the supported set, performs exactly one call per
// Generate and tracks token usage and estimated cost. It never retries.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
)

// Options configures the built-in drivers.
type Options struct {
	// Timeout bounds each outbound call. Zero means 60s.
	Timeout       time.Duration
	OpenAIBaseURL string
	GeminiBaseURL string
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// ModelRouter routes generation requests to the registered provider drivers.
type ModelRouter struct {
	driversMu sync.RWMutex
	drivers   map[models.ProviderKind]contracts.ProviderDriver

	// Latency tracking: provider → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[models.ProviderKind]int64

	usageMu sync.RWMutex
	usage   *models.UsageSummary
}

// NewModelRouter creates a router with the openai and gemini drivers registered.
func NewModelRouter(opts Options) *ModelRouter {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	mr := &ModelRouter{
		drivers:   make(map[models.ProviderKind]contracts.ProviderDriver),
		latencies: make(map[models.ProviderKind]int64),
		usage:     newUsageSummary(),
	}
	mr.RegisterDriver(NewOpenAIDriver(opts.OpenAIBaseURL, client))
	mr.RegisterDriver(NewGeminiDriver(opts.GeminiBaseURL, client))
	return mr
}

// ── Driver Registry ─────────────────────────────────────────

// RegisterDriver adds or replaces the driver for its provider kind.
func (mr *ModelRouter) RegisterDriver(d contracts.ProviderDriver) {
	mr.driversMu.Lock()
	defer mr.driversMu.Unlock()
	mr.drivers[d.Kind()] = d
}

// GetDriver returns the driver for kind, or nil.
func (mr *ModelRouter) GetDriver(kind models.ProviderKind) contracts.ProviderDriver {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered provider kinds in sorted order.
func (mr *ModelRouter) ListDrivers() []models.ProviderKind {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	kinds := make([]models.ProviderKind, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ── Generate ────────────────────────────────────────────────

// Generate performs one call through the driver selected by req.Provider.
func (mr *ModelRouter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error) {
	if err := mr.Validate(req.Provider, req.Model); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Stage = req.Stage
		}
		return nil, err
	}
	if req.OutputMode == "" {
		req.OutputMode = models.OutputText
	}
	driver := mr.GetDriver(req.Provider)

	start := time.Now()
	gen, err := driver.Call(ctx, req)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		err = mr.wrapError(req, err)
		log.Warn().
			Str("stage", req.Stage).
			Str("provider", string(req.Provider)).
			Str("model", req.Model).
			Int64("latency_ms", latencyMs).
			Err(err).
			Msg("Provider call failed")
		return nil, err
	}

	if gen.ID == "" {
		gen.ID = uuid.New().String()
	}
	gen.Provider = req.Provider
	if gen.Model == "" {
		gen.Model = req.Model
	}
	gen.Mode = req.OutputMode
	gen.LatencyMs = latencyMs
	gen.Usage.EstimatedCost = estimateCost(req.Model, gen.Usage)

	mr.trackLatency(req.Provider, latencyMs)
	mr.trackUsage(req.Stage, gen)

	log.Debug().
		Str("stage", req.Stage).
		Str("provider", string(req.Provider)).
		Str("model", gen.Model).
		Int64("tokens", gen.Usage.TotalTokens).
		Int64("latency_ms", latencyMs).
		Str("finish_reason", gen.FinishReason).
		Msg("Provider call completed")
	return gen, nil
}

// Validate checks that a driver is registered for provider and that model
// belongs to the provider's supported set.
func (mr *ModelRouter) Validate(provider models.ProviderKind, model string) error {
	if mr.GetDriver(provider) == nil {
		return &models.ConfigurationError{Reason: fmt.Sprintf("no driver registered for provider %q", provider)}
	}
	if !models.IsSupportedModel(provider, model) {
		return &models.ConfigurationError{Reason: fmt.Sprintf("model %q is not supported by %s", model, provider)}
	}
	return nil
}

// wrapError guarantees the caller sees a ProviderError or ConfigurationError.
func (mr *ModelRouter) wrapError(req *models.GenerateRequest, err error) error {
	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		if cfgErr.Stage == "" {
			cfgErr.Stage = req.Stage
		}
		return err
	}
	var provErr *models.ProviderError
	if errors.As(err, &provErr) {
		provErr.Stage = req.Stage
		if provErr.Provider == "" {
			provErr.Provider = req.Provider
		}
		if provErr.Model == "" {
			provErr.Model = req.Model
		}
		return err
	}
	return &models.ProviderError{Stage: req.Stage, Provider: req.Provider, Model: req.Model, Err: err}
}

func (mr *ModelRouter) trackLatency(provider models.ProviderKind, latencyMs int64) {
	mr.latencyMu.Lock()
	defer mr.latencyMu.Unlock()
	prev := mr.latencies[provider]
	if prev == 0 {
		mr.latencies[provider] = latencyMs
	} else {
		// Exponential moving average
		mr.latencies[provider] = (prev*7 + latencyMs*3) / 10
	}
}

// AverageLatency returns the rolling average call latency of provider in ms.
func (mr *ModelRouter) AverageLatency(provider models.ProviderKind) int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	return mr.latencies[provider]
}

// ── Usage Tracking ──────────────────────────────────────────

func newUsageSummary() *models.UsageSummary {
	return &models.UsageSummary{
		ByStage:    make(map[string]float64),
		ByModel:    make(map[string]float64),
		ByProvider: make(map[string]float64),
	}
}

func (mr *ModelRouter) trackUsage(stage string, gen *models.Generation) {
	mr.usageMu.Lock()
	defer mr.usageMu.Unlock()

	if stage == "" {
		stage = "default"
	}
	cost := gen.Usage.EstimatedCost
	mr.usage.TotalCostUSD += cost
	mr.usage.TotalTokens += gen.Usage.TotalTokens
	mr.usage.Requests++
	mr.usage.ByStage[stage] += cost
	mr.usage.ByModel[gen.Model] += cost
	mr.usage.ByProvider[string(gen.Provider)] += cost
}

// GetUsageSummary returns a snapshot of the accumulated usage.
func (mr *ModelRouter) GetUsageSummary() *models.UsageSummary {
	mr.usageMu.RLock()
	defer mr.usageMu.RUnlock()

	out := *mr.usage
	out.ByStage = copyCosts(mr.usage.ByStage)
	out.ByModel = copyCosts(mr.usage.ByModel)
	out.ByProvider = copyCosts(mr.usage.ByProvider)
	return &out
}

func copyCosts(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ── Cost Helpers ────────────────────────────────────────────

// Known cost per 1K tokens (USD)
var defaultCosts = map[string]map[string]float64{
	"gpt-4o":           {"input": 0.0025, "output": 0.01},
	"gpt-4o-mini":      {"input": 0.00015, "output": 0.0006},
	"gpt-4.1":          {"input": 0.002, "output": 0.008},
	"gpt-4.1-mini":     {"input": 0.0004, "output": 0.0016},
	"gemini-2.5-flash": {"input": 0.0003, "output": 0.0025},
	"gemini-2.5-pro":   {"input": 0.00125, "output": 0.01},
	"gemini-2.0-flash": {"input": 0.0001, "output": 0.0004},
}

func estimateCost(model string, usage models.TokenUsage) float64 {
	costs, ok := defaultCosts[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000*costs["input"] +
		float64(usage.OutputTokens)/1000*costs["output"]
}
