package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/retry"
)

// AzureOpenAIProvider runs inference against an Azure AI Foundry
// chat-completion deployment via the OpenAI-compatible API surface.
// Only allowed in connected deployments; the router's policy gate
// refuses to construct it in air-gap mode.
type AzureOpenAIProvider struct {
	cfg    Config
	client *openai.Client
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// NewAzureOpenAIProvider builds the adapter. cfg.Model is the Azure
// deployment name, not the base model name.
func NewAzureOpenAIProvider(cfg Config, logger *zap.Logger) *AzureOpenAIProvider {
	cfg.Provider = ProviderAzureOpenAI

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.HTTPClient.Timeout = cfg.Timeout
	clientConfig.AzureModelMapperFunc = func(string) string { return cfg.Model }

	return &AzureOpenAIProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger.Named("azure_foundry"),
		status: StatusInitializing,
	}
}

func (p *AzureOpenAIProvider) Type() ProviderType { return ProviderAzureOpenAI }

func (p *AzureOpenAIProvider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *AzureOpenAIProvider) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Initialize validates config and runs one minimal completion as a
// connectivity probe.
func (p *AzureOpenAIProvider) Initialize(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		p.setStatus(StatusError)
		return &Error{
			Kind:     KindValidation,
			Message:  "api key not configured",
			Provider: ProviderAzureOpenAI,
		}
	}
	if err := p.cfg.CheckEndpoint(); err != nil {
		p.setStatus(StatusError)
		return &Error{
			Kind:     KindPolicy,
			Message:  "endpoint rejected",
			Provider: ProviderAzureOpenAI,
			Cause:    err,
		}
	}

	if !p.probe(ctx) {
		p.setStatus(StatusError)
		return &Error{
			Kind:        KindConnection,
			Message:     "deployment unreachable",
			Provider:    ProviderAzureOpenAI,
			Recoverable: true,
		}
	}

	p.setStatus(StatusReady)
	p.logger.Info("provider initialized", zap.String("deployment", p.cfg.Model))
	return nil
}

// HealthCheck reuses the probe completion.
func (p *AzureOpenAIProvider) HealthCheck(ctx context.Context) bool {
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

// probe sends a one-token completion. Azure exposes no cheap liveness
// endpoint on deployments, so this is the smallest honest check.
func (p *AzureOpenAIProvider) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.client.CreateChatCompletion(probeCtx, openai.ChatCompletionRequest{
		Model:     p.cfg.Model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	return err == nil
}

// Generate runs one chat completion with the shared retry policy.
func (p *AzureOpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.Status() != StatusReady {
		return nil, &Error{
			Kind:     KindConnection,
			Message:  fmt.Sprintf("provider not ready (status %s)", p.Status()),
			Provider: ProviderAzureOpenAI,
		}
	}

	temperature := p.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	start := time.Now()
	resp, attempts, err := retry.DoWithResult(ctx, p.cfg.retryConfig(), func() (*openai.ChatCompletionResponse, error) {
		out, callErr := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.cfg.Model,
			Temperature: float32(temperature),
			TopP:        float32(p.cfg.TopP),
			MaxTokens:   maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
			},
		})
		if callErr != nil {
			return nil, p.mapError(callErr, req.RequestID)
		}
		return &out, nil
	})
	if err != nil {
		if e, ok := err.(*Error); ok && e.Retryable {
			return nil, exhaustedError(ProviderAzureOpenAI, req.RequestID, attempts, err)
		}
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{
			Kind:      KindProvider,
			Message:   "response contained no choices",
			Provider:  ProviderAzureOpenAI,
			RequestID: req.RequestID,
		}
	}

	return &Response{
		Content:          strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		Provider:         ProviderAzureOpenAI,
		Latency:          time.Since(start),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		RequestID:        req.RequestID,
		Raw: map[string]any{
			"finish_reason": string(resp.Choices[0].FinishReason),
			"attempts":      attempts,
		},
	}, nil
}

// mapError translates go-openai failures onto the shared taxonomy.
// API errors carry status codes; anything else is a transport failure.
func (p *AzureOpenAIProvider) mapError(err error, requestID string) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
		return &Error{
			Kind:        KindProvider,
			Message:     fmt.Sprintf("api error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message),
			Provider:    ProviderAzureOpenAI,
			RequestID:   requestID,
			Recoverable: retryable,
			Retryable:   retryable,
			Cause:       err,
		}
	}
	return classifyTransportError(err, ProviderAzureOpenAI, requestID)
}

// Shutdown marks the provider Offline. The SDK client holds no
// resources beyond pooled connections.
func (p *AzureOpenAIProvider) Shutdown(ctx context.Context) {
	p.setStatus(StatusOffline)
	p.logger.Info("provider shut down")
}
