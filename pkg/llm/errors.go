package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies provider and router failures. Policy and
// validation failures are never retried; only timeout-class transport
// failures are.
type ErrorKind string

const (
	// KindPolicy: deployment-mode policy forbids the provider kind.
	KindPolicy ErrorKind = "policy_violation"
	// KindValidation: request construction failed its safety checks.
	KindValidation ErrorKind = "request_validation"
	// KindConnection: network-level failure reaching the provider.
	KindConnection ErrorKind = "connection"
	// KindTimeout: retries exhausted waiting for the provider.
	KindTimeout ErrorKind = "timeout"
	// KindProvider: the provider was reachable but returned a non-2xx
	// or malformed response.
	KindProvider ErrorKind = "provider"
	// KindNoProvider: the router has no Ready primary.
	KindNoProvider ErrorKind = "no_provider"
	// KindAudit: the audit log could not record the crossing and the
	// deployment requires audited calls.
	KindAudit ErrorKind = "audit_unavailable"
)

// Error is the structured failure type for this package. It carries
// enough context (provider kind, request id, recoverable flag) for the
// calling layer to render a specific message rather than a generic
// failure.
type Error struct {
	Kind        ErrorKind
	Message     string
	Provider    ProviderType
	RequestID   string
	Recoverable bool
	Retryable   bool
	Cause       error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("request=%s", e.RequestID))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// KindOf extracts the ErrorKind from an error chain.
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return ""
}

// classifyTransportError maps a transport failure onto the taxonomy.
// Timeouts are transient and retryable. Connection refusal means the
// service is down: retrying it only wastes the timeout budget, so it
// is reported immediately as non-recoverable.
func classifyTransportError(err error, provider ProviderType, requestID string) *Error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{
			Kind:        KindConnection,
			Message:     "connection refused",
			Provider:    provider,
			RequestID:   requestID,
			Recoverable: false,
			Retryable:   false,
			Cause:       err,
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Kind:        KindConnection,
			Message:     "request timed out",
			Provider:    provider,
			RequestID:   requestID,
			Recoverable: true,
			Retryable:   true,
			Cause:       err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{
			Kind:        KindConnection,
			Message:     "request cancelled",
			Provider:    provider,
			RequestID:   requestID,
			Recoverable: false,
			Retryable:   false,
			Cause:       err,
		}
	}

	return &Error{
		Kind:        KindConnection,
		Message:     "transport failure",
		Provider:    provider,
		RequestID:   requestID,
		Recoverable: true,
		Retryable:   false,
		Cause:       err,
	}
}

// exhaustedError wraps the final failure after the retry budget is
// spent, naming the attempt count.
func exhaustedError(provider ProviderType, requestID string, attempts int, cause error) *Error {
	return &Error{
		Kind:        KindTimeout,
		Message:     fmt.Sprintf("request timed out after %d attempts", attempts),
		Provider:    provider,
		RequestID:   requestID,
		Recoverable: true,
		Retryable:   false,
		Cause:       cause,
	}
}
