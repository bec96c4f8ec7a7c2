package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/retry"
)

// thinkTagPattern strips reasoning blocks some local models emit
// before the answer.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// OllamaProvider talks to a local Ollama daemon over its native REST
// API. It is the only provider permitted in air-gapped deployments, so
// its endpoint allow-list defaults to loopback hosts.
type OllamaProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// NewOllamaProvider builds the adapter without touching the network.
func NewOllamaProvider(cfg Config, logger *zap.Logger) *OllamaProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	cfg.Provider = ProviderOllama
	return &OllamaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("ollama"),
		status: StatusInitializing,
	}
}

func (p *OllamaProvider) Type() ProviderType { return ProviderOllama }

func (p *OllamaProvider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *OllamaProvider) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Initialize checks the endpoint allow-list, then probes the daemon
// and verifies the configured model is pulled.
func (p *OllamaProvider) Initialize(ctx context.Context) error {
	if err := p.cfg.CheckEndpoint(); err != nil {
		p.setStatus(StatusError)
		return &Error{
			Kind:     KindPolicy,
			Message:  "endpoint rejected",
			Provider: ProviderOllama,
			Cause:    err,
		}
	}

	models, err := p.listModels(ctx)
	if err != nil {
		p.setStatus(StatusError)
		return err
	}

	if !modelAvailable(models, p.cfg.Model) {
		p.logger.Warn("configured model not found on daemon",
			zap.String("model", p.cfg.Model),
			zap.Strings("available", models))
	}

	p.setStatus(StatusReady)
	p.logger.Info("provider initialized",
		zap.String("endpoint", p.cfg.Endpoint),
		zap.String("model", p.cfg.Model))
	return nil
}

// HealthCheck probes /api/tags and flips Ready⇄Error accordingly.
func (p *OllamaProvider) HealthCheck(ctx context.Context) bool {
	if p.Status() == StatusOffline {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.listModels(probeCtx)
	if err != nil {
		p.setStatus(StatusError)
		return false
	}
	p.setStatus(StatusReady)
	return true
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

// Generate runs one non-streaming completion with the shared retry
// policy. Connection refusal fails immediately; timeouts are retried
// up to the configured budget.
func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.Status() != StatusReady {
		return nil, &Error{
			Kind:     KindConnection,
			Message:  fmt.Sprintf("provider not ready (status %s)", p.Status()),
			Provider: ProviderOllama,
		}
	}

	start := time.Now()
	resp, attempts, err := retry.DoWithResult(ctx, p.cfg.retryConfig(), func() (*ollamaGenerateResponse, error) {
		return p.generateOnce(ctx, req)
	})
	if err != nil {
		if e, ok := err.(*Error); ok && e.Retryable {
			return nil, exhaustedError(ProviderOllama, req.RequestID, attempts, err)
		}
		return nil, err
	}

	content := strings.TrimSpace(thinkTagPattern.ReplaceAllString(resp.Response, ""))
	return &Response{
		Content:          content,
		Model:            resp.Model,
		Provider:         ProviderOllama,
		Latency:          time.Since(start),
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		RequestID:        req.RequestID,
		Raw: map[string]any{
			"done":           resp.Done,
			"total_duration": resp.TotalDuration,
			"attempts":       attempts,
		},
	}, nil
}

func (p *OllamaProvider) generateOnce(ctx context.Context, req *Request) (*ollamaGenerateResponse, error) {
	temperature := p.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := ollamaGenerateRequest{
		Model:  p.cfg.Model,
		Prompt: req.UserPrompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"top_p":       p.cfg.TopP,
			"num_predict": maxTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "encode request",
			Provider:  ProviderOllama,
			RequestID: req.RequestID,
			Cause:     err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.Endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "build request",
			Provider:  ProviderOllama,
			RequestID: req.RequestID,
			Cause:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, ProviderOllama, req.RequestID)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &Error{
			Kind:      KindProvider,
			Message:   fmt.Sprintf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet))),
			Provider:  ProviderOllama,
			RequestID: req.RequestID,
		}
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, &Error{
			Kind:      KindProvider,
			Message:   "decode response",
			Provider:  ProviderOllama,
			RequestID: req.RequestID,
			Cause:     err,
		}
	}
	return &out, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *OllamaProvider) listModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "build request", Provider: ProviderOllama, Cause: err}
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, ProviderOllama, "")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:     KindProvider,
			Message:  fmt.Sprintf("tags endpoint returned status %d", httpResp.StatusCode),
			Provider: ProviderOllama,
		}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return nil, &Error{Kind: KindProvider, Message: "decode tags response", Provider: ProviderOllama, Cause: err}
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// modelAvailable matches exactly or on the base name before the tag,
// so "phi4" matches "phi4:latest".
func modelAvailable(models []string, want string) bool {
	for _, m := range models {
		if m == want || strings.SplitN(m, ":", 2)[0] == want {
			return true
		}
	}
	return false
}

// Shutdown closes idle connections and marks the provider Offline.
func (p *OllamaProvider) Shutdown(ctx context.Context) {
	p.client.CloseIdleConnections()
	p.setStatus(StatusOffline)
	p.logger.Info("provider shut down")
}
