// Package llm defines the uniform provider contract every LLM backend
// adapter implements, and the router that adds boundary enforcement,
// deployment policy, retry and audit behavior once, centrally.
package llm

import (
	"context"
)

// ProviderType identifies a backend adapter kind.
type ProviderType string

const (
	ProviderOllama      ProviderType = "ollama"
	ProviderAzureOpenAI ProviderType = "azure_foundry"
	ProviderAzureClaude ProviderType = "azure_claude"
)

// Status is the provider lifecycle state. Transitions are
// one-directional (Initializing → Ready/Error → Offline) except
// Ready⇄Error, which flips with repeated health checks.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
	StatusOffline      Status = "offline"
)

// Provider is the contract all backends implement. Generate is the
// single inference call; everything a provider receives has already
// passed the data boundary.
type Provider interface {
	// Initialize opens resources and runs one cheap connectivity
	// probe, setting status Ready or Error.
	Initialize(ctx context.Context) error

	// HealthCheck is an idempotent, side-effect-free reachability
	// probe.
	HealthCheck(ctx context.Context) bool

	// Generate performs one inference call.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Shutdown releases resources and sets status Offline.
	Shutdown(ctx context.Context)

	// Type returns the provider kind.
	Type() ProviderType

	// Status returns the current lifecycle state.
	Status() Status
}
