package llm

import (
	"fmt"
	"strings"
	"time"
)

// dataReturnFragments are SQL/DAX constructs that return or mutate
// rows. A prompt should describe structure and intent; one of these in
// the prompt text means something upstream leaked past the sanitizer,
// so request construction fails closed. This is the last line of
// defense for callers that bypass the boundary enforcer.
var dataReturnFragments = []string{
	"INSERT INTO",
	"UPDATE ",
	"DELETE FROM",
	"SELECT *",
	"TRUNCATE",
	"DROP TABLE",
}

// Request is one inference call. The user prompt carries the sanitized
// schema plus the user's intent — never actual data.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	RequestID    string

	// Per-call overrides; nil uses the provider config.
	Temperature *float64
	MaxTokens   *int
}

// NewRequest validates and builds a request. Construction fails if the
// combined prompt text contains a data-return fragment.
func NewRequest(systemPrompt, userPrompt, requestID string) (*Request, error) {
	combined := strings.ToUpper(systemPrompt + " " + userPrompt)
	for _, fragment := range dataReturnFragments {
		if strings.Contains(combined, fragment) {
			return nil, &Error{
				Kind:      KindValidation,
				Message:   fmt.Sprintf("prompt contains data-return fragment %q", fragment),
				RequestID: requestID,
			}
		}
	}

	return &Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		RequestID:    requestID,
	}, nil
}

// Response is the uniform result shape every adapter maps onto. Raw
// holds provider-side metadata (durations, completion flags) and never
// source data: the provider only ever received the sanitized schema.
type Response struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Provider ProviderType  `json:"provider"`
	Latency  time.Duration `json:"latency"`

	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`

	RequestID string         `json:"request_id"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// Success reports whether the response carries usable content.
func (r *Response) Success() bool {
	return r != nil && strings.TrimSpace(r.Content) != ""
}
