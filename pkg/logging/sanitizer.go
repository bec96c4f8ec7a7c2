// Package logging provides helpers that keep secrets and bulk prompt
// text out of log output.
package logging

import (
	"regexp"
)

const (
	// MaxPromptLogLength is the maximum length of prompt or query text to log
	MaxPromptLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential API keys in URLs or error text
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Pattern to match bearer tokens
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)

	// Pattern to match credentials embedded in URLs (user:pass@host)
	urlCredsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeError strips credential material from an error message before
// it is logged. Provider errors can echo back the request URL, which may
// carry API keys.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := apiKeyPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = urlCredsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizePrompt truncates prompt or DAX text for logging. Full prompt
// text belongs in the audit trail as a hash, never in operational logs.
func SanitizePrompt(text string) string {
	if text == "" {
		return ""
	}
	sanitized := apiKeyPattern.ReplaceAllString(text, "${1}="+RedactedText)
	return TruncateString(sanitized, MaxPromptLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
