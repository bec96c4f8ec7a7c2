package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/audit"
	"github.com/sulaiman013/powerbi-expert-app/pkg/boundary"
	"github.com/sulaiman013/powerbi-expert-app/pkg/logging"
	"github.com/sulaiman013/powerbi-expert-app/pkg/models"
	"github.com/sulaiman013/powerbi-expert-app/pkg/prompts"
)

// DeploymentMode controls which provider kinds the router will
// construct.
type DeploymentMode string

const (
	// ModeAirgap permits only the local Ollama provider. No cloud
	// adapter is even constructed, so no cloud credential is ever
	// loaded.
	ModeAirgap DeploymentMode = "airgap"
	// ModeConnected permits all provider kinds.
	ModeConnected DeploymentMode = "connected"
)

// RouterConfig sets router-wide policy.
type RouterConfig struct {
	Mode DeploymentMode
	// RequireAudit fails generation closed when the audit log cannot
	// record the crossing.
	RequireAudit bool

	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultRouterConfig is air-gapped and fail-closed.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Mode:             ModeAirgap,
		RequireAudit:     true,
		BreakerThreshold: 5,
		BreakerReset:     30 * time.Second,
	}
}

// providerFactory builds an adapter for a config. Swappable in tests.
type providerFactory func(cfg Config, logger *zap.Logger) (Provider, error)

func defaultFactory(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaProvider(cfg, logger), nil
	case ProviderAzureOpenAI:
		return NewAzureOpenAIProvider(cfg, logger), nil
	case ProviderAzureClaude:
		return NewAzureClaudeProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider)
	}
}

// Router owns every provider and is the single entry point for
// generation. Boundary enforcement, deployment policy, audit and the
// circuit breaker all live here so no adapter can skip them.
type Router struct {
	cfg      RouterConfig
	enforcer *boundary.Enforcer
	audit    *audit.Logger
	logger   *zap.Logger
	factory  providerFactory

	mu        sync.RWMutex
	providers map[ProviderType]Provider
	breakers  map[ProviderType]*CircuitBreaker
	primary   ProviderType
}

// NewRouter wires the router with its boundary enforcer and audit
// logger. Both are required: generation without either is a policy
// hole, not a degraded mode.
func NewRouter(cfg RouterConfig, enforcer *boundary.Enforcer, auditLog *audit.Logger, logger *zap.Logger) *Router {
	return &Router{
		cfg:       cfg,
		enforcer:  enforcer,
		audit:     auditLog,
		logger:    logger.Named("router"),
		factory:   defaultFactory,
		providers: make(map[ProviderType]Provider),
		breakers:  make(map[ProviderType]*CircuitBreaker),
	}
}

// InitializeProvider constructs and initializes one provider. The
// deployment-policy gate runs before construction: in air-gap mode a
// cloud adapter is refused without its SDK client ever being built.
// The first successfully initialized provider becomes primary.
func (r *Router) InitializeProvider(ctx context.Context, cfg Config) error {
	if r.cfg.Mode == ModeAirgap && cfg.Provider != ProviderOllama {
		_, _ = r.audit.LogSecurityEvent(audit.EventPolicyViolation,
			"cloud provider refused in air-gapped deployment", "",
			map[string]any{"provider": string(cfg.Provider)})
		return &Error{
			Kind:     KindPolicy,
			Message:  fmt.Sprintf("deployment mode %q permits only the %s provider", r.cfg.Mode, ProviderOllama),
			Provider: cfg.Provider,
		}
	}

	provider, err := r.factory(cfg, r.logger)
	if err != nil {
		return &Error{
			Kind:     KindValidation,
			Message:  "construct provider",
			Provider: cfg.Provider,
			Cause:    err,
		}
	}

	if err := provider.Initialize(ctx); err != nil {
		r.logger.Error("provider initialization failed",
			zap.String("provider", string(cfg.Provider)),
			zap.String("error", logging.SanitizeError(err)))
		return err
	}

	r.mu.Lock()
	r.providers[cfg.Provider] = provider
	r.breakers[cfg.Provider] = NewCircuitBreaker(cfg.Provider, r.cfg.BreakerThreshold, r.cfg.BreakerReset)
	if r.primary == "" {
		r.primary = cfg.Provider
	}
	r.mu.Unlock()

	_, _ = r.audit.Log(audit.EventConnectionOpened, "llm provider initialized", audit.Options{
		Details: map[string]any{"provider": string(cfg.Provider)},
	})
	return nil
}

// SetPrimary selects which initialized provider serves generation.
func (r *Router) SetPrimary(pt ProviderType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[pt]; !ok {
		return &Error{Kind: KindNoProvider, Message: "provider not initialized", Provider: pt}
	}
	r.primary = pt
	return nil
}

// Primary returns the current primary provider, or nil.
func (r *Router) Primary() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.primary]
}

// GenerateDAX is the full trust-boundary crossing: intent check,
// schema sanitization, audit, circuit breaker, then one provider
// call. The schema passed in is the raw model; only its sanitized
// form ever reaches a prompt.
func (r *Router) GenerateDAX(ctx context.Context, schema *models.Schema, intent string) (*Response, error) {
	requestID := uuid.NewString()

	if strings.TrimSpace(intent) == "" {
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "intent is empty",
			RequestID: requestID,
		}
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(intent); isSQLi {
		_, _ = r.audit.LogSecurityEvent(audit.EventAccessDenied,
			"injection pattern in analyst intent", requestID,
			map[string]any{"fingerprint": string(fingerprint)})
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "intent contains an injection pattern",
			RequestID: requestID,
		}
	}

	sanitized, violations, err := r.enforcer.Sanitize(schema)
	if err != nil {
		_, _ = r.audit.LogSecurityEvent(audit.EventDataBoundaryViolation,
			"schema rejected by data boundary", requestID,
			r.enforcer.AuditRecord(schema, violations))
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "schema failed boundary enforcement",
			RequestID: requestID,
			Cause:     err,
		}
	}

	provider, breaker, perr := r.readyPrimary(requestID)
	if perr != nil {
		return nil, perr
	}

	record := r.enforcer.AuditRecord(sanitized, violations)
	record["provider"] = string(provider.Type())
	record["intent_length"] = len(intent)
	if _, err := r.audit.Log(audit.EventLLMRequest, "schema crossing to llm provider", audit.Options{
		RequestID: requestID,
		Details:   record,
	}); err != nil {
		if r.cfg.RequireAudit {
			return nil, &Error{
				Kind:      KindAudit,
				Message:   "audit log unavailable, refusing unaudited generation",
				RequestID: requestID,
				Cause:     err,
			}
		}
		r.logger.Warn("audit write failed, continuing per policy",
			zap.String("error", logging.SanitizeError(err)))
	}

	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	req, err := NewRequest(prompts.SystemPrompt(), prompts.UserPrompt(sanitized.ToPromptString(), intent), requestID)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		breaker.RecordFailure()
		_, _ = r.audit.Log(audit.EventLLMError, "llm generation failed", audit.Options{
			Severity:  audit.SeverityError,
			RequestID: requestID,
			Details: map[string]any{
				"provider": string(provider.Type()),
				"kind":     string(KindOf(err)),
			},
		})
		return nil, err
	}

	breaker.RecordSuccess()
	_, _ = r.audit.LogLLMResponse(requestID, string(provider.Type()), resp.Latency, resp.TotalTokens)
	r.logger.Info("generation complete",
		zap.String("request_id", requestID),
		zap.String("provider", string(provider.Type())),
		zap.Duration("latency", resp.Latency),
		zap.Int("tokens", resp.TotalTokens))
	return resp, nil
}

// Generate forwards a pre-built request to the primary provider with
// breaker protection but no boundary work. Callers own sanitization.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	provider, breaker, err := r.readyPrimary(req.RequestID)
	if err != nil {
		return nil, err
	}
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	resp, genErr := provider.Generate(ctx, req)
	if genErr != nil {
		breaker.RecordFailure()
		return nil, genErr
	}
	breaker.RecordSuccess()
	return resp, nil
}

func (r *Router) readyPrimary(requestID string) (Provider, *CircuitBreaker, *Error) {
	r.mu.RLock()
	provider := r.providers[r.primary]
	breaker := r.breakers[r.primary]
	r.mu.RUnlock()

	if provider == nil {
		return nil, nil, &Error{
			Kind:      KindNoProvider,
			Message:   "no provider initialized",
			RequestID: requestID,
		}
	}
	if provider.Status() != StatusReady {
		return nil, nil, &Error{
			Kind:      KindNoProvider,
			Message:   fmt.Sprintf("primary provider %s is %s", provider.Type(), provider.Status()),
			Provider:  provider.Type(),
			RequestID: requestID,
		}
	}
	return provider, breaker, nil
}

// HealthCheck probes every provider and returns reachability by type.
func (r *Router) HealthCheck(ctx context.Context) map[ProviderType]bool {
	r.mu.RLock()
	providers := make(map[ProviderType]Provider, len(r.providers))
	for pt, p := range r.providers {
		providers[pt] = p
	}
	r.mu.RUnlock()

	results := make(map[ProviderType]bool, len(providers))
	for pt, p := range providers {
		results[pt] = p.HealthCheck(ctx)
	}
	return results
}

// Status reports each provider's lifecycle state and breaker
// position.
func (r *Router) Status() map[ProviderType]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[ProviderType]map[string]string, len(r.providers))
	for pt, p := range r.providers {
		entry := map[string]string{"status": string(p.Status())}
		if b := r.breakers[pt]; b != nil {
			entry["circuit"] = b.State().String()
		}
		if pt == r.primary {
			entry["role"] = "primary"
		}
		out[pt] = entry
	}
	return out
}

// Shutdown stops every provider.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pt, p := range r.providers {
		p.Shutdown(ctx)
		r.logger.Info("provider stopped", zap.String("provider", string(pt)))
	}
}
