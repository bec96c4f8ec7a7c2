package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/retry"
)

// AzureClaudeProvider runs inference against a Claude deployment
// hosted on Azure AI Foundry, which exposes the Anthropic Messages
// API under an /anthropic path on the resource endpoint.
type AzureClaudeProvider struct {
	cfg    Config
	client *anthropic.Client
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// NewAzureClaudeProvider builds the adapter. cfg.Model is the
// deployment's model name as Azure exposes it.
func NewAzureClaudeProvider(cfg Config, logger *zap.Logger) *AzureClaudeProvider {
	cfg.Provider = ProviderAzureClaude

	baseURL := strings.TrimSuffix(cfg.Endpoint, "/") + "/anthropic/v1"
	client := anthropic.NewClient(cfg.APIKey, anthropic.WithBaseURL(baseURL))

	return &AzureClaudeProvider{
		cfg:    cfg,
		client: client,
		logger: logger.Named("azure_claude"),
		status: StatusInitializing,
	}
}

func (p *AzureClaudeProvider) Type() ProviderType { return ProviderAzureClaude }

func (p *AzureClaudeProvider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *AzureClaudeProvider) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Initialize validates config and runs one minimal message as a
// connectivity probe.
func (p *AzureClaudeProvider) Initialize(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		p.setStatus(StatusError)
		return &Error{
			Kind:     KindValidation,
			Message:  "api key not configured",
			Provider: ProviderAzureClaude,
		}
	}
	if err := p.cfg.CheckEndpoint(); err != nil {
		p.setStatus(StatusError)
		return &Error{
			Kind:     KindPolicy,
			Message:  "endpoint rejected",
			Provider: ProviderAzureClaude,
			Cause:    err,
		}
	}

	if !p.probe(ctx) {
		p.setStatus(StatusError)
		return &Error{
			Kind:        KindConnection,
			Message:     "deployment unreachable",
			Provider:    ProviderAzureClaude,
			Recoverable: true,
		}
	}

	p.setStatus(StatusReady)
	p.logger.Info("provider initialized", zap.String("model", p.cfg.Model))
	return nil
}

// HealthCheck reuses the probe message.
func (p *AzureClaudeProvider) HealthCheck(ctx context.Context) bool {
	if p.Status() == StatusOffline {
		return false
	}
	if p.probe(ctx) {
		p.setStatus(StatusReady)
		return true
	}
	p.setStatus(StatusError)
	return false
}

func (p *AzureClaudeProvider) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ping := "ping"
	_, err := p.client.CreateMessages(probeCtx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: 1,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &ping},
			}},
		},
	})
	return err == nil
}

// Generate runs one Messages call with the shared retry policy.
func (p *AzureClaudeProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.Status() != StatusReady {
		return nil, &Error{
			Kind:     KindConnection,
			Message:  fmt.Sprintf("provider not ready (status %s)", p.Status()),
			Provider: ProviderAzureClaude,
		}
	}

	temperature := float32(p.cfg.Temperature)
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	prompt := req.UserPrompt
	start := time.Now()
	resp, attempts, err := retry.DoWithResult(ctx, p.cfg.retryConfig(), func() (*anthropic.MessagesResponse, error) {
		out, callErr := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:       anthropic.Model(p.cfg.Model),
			System:      req.SystemPrompt,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			Messages: []anthropic.Message{
				{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
					{Type: "text", Text: &prompt},
				}},
			},
		})
		if callErr != nil {
			return nil, p.mapError(callErr, req.RequestID)
		}
		return &out, nil
	})
	if err != nil {
		if e, ok := err.(*Error); ok && e.Retryable {
			return nil, exhaustedError(ProviderAzureClaude, req.RequestID, attempts, err)
		}
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			content = strings.TrimSpace(*block.Text)
			break
		}
	}

	return &Response{
		Content:          content,
		Model:            string(resp.Model),
		Provider:         ProviderAzureClaude,
		Latency:          time.Since(start),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		RequestID:        req.RequestID,
		Raw: map[string]any{
			"stop_reason": string(resp.StopReason),
			"attempts":    attempts,
		},
	}, nil
}

// mapError translates go-anthropic failures onto the shared taxonomy.
func (p *AzureClaudeProvider) mapError(err error, requestID string) *Error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		retryable := reqErr.StatusCode == 429 || reqErr.StatusCode >= 500
		return &Error{
			Kind:        KindProvider,
			Message:     fmt.Sprintf("api error (status %d)", reqErr.StatusCode),
			Provider:    ProviderAzureClaude,
			RequestID:   requestID,
			Recoverable: retryable,
			Retryable:   retryable,
			Cause:       err,
		}
	}
	return classifyTransportError(err, ProviderAzureClaude, requestID)
}

// Shutdown marks the provider Offline.
func (p *AzureClaudeProvider) Shutdown(ctx context.Context) {
	p.setStatus(StatusOffline)
	p.logger.Info("provider shut down")
}
