// Package netcheck proves network isolation for air-gapped
// deployments: external DNS and TCP probes must fail, loopback must
// work, and no proxy variables may be set. The result is an evidence
// report, not just a boolean, because enterprise reviews ask for the
// report.
package netcheck

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one validation check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusWarning CheckStatus = "warning"
	StatusSkipped CheckStatus = "skipped"
)

// Check is one validation check result.
type Check struct {
	Name      string         `json:"name"`
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result aggregates all checks. Overall is failed if any check failed,
// warning if any warned, passed otherwise.
type Result struct {
	Overall   CheckStatus `json:"overall_status"`
	Checks    []Check     `json:"checks"`
	Timestamp time.Time   `json:"timestamp"`
	Hostname  string      `json:"hostname"`
	Platform  string      `json:"platform"`
}

// Report renders the result for an isolation review.
func (r *Result) Report() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	b.WriteString(rule + "\n")
	b.WriteString("NETWORK ISOLATION VALIDATION REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Hostname: %s\n", r.Hostname)
	fmt.Fprintf(&b, "Platform: %s\n", r.Platform)
	fmt.Fprintf(&b, "Overall Status: %s\n", strings.ToUpper(string(r.Overall)))
	b.WriteString(strings.Repeat("-", 60) + "\n")
	b.WriteString("CHECKS:\n")

	icons := map[CheckStatus]string{
		StatusPassed:  "[PASS]",
		StatusFailed:  "[FAIL]",
		StatusWarning: "[WARN]",
		StatusSkipped: "[SKIP]",
	}
	passed, failed := 0, 0
	for _, c := range r.Checks {
		fmt.Fprintf(&b, "  %s %s\n", icons[c.Status], c.Name)
		fmt.Fprintf(&b, "         %s\n", c.Message)
		switch c.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		}
	}
	b.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&b, "Summary: %d passed, %d failed\n", passed, failed)
	b.WriteString(rule)
	return b.String()
}

// Validator runs the isolation checks.
type Validator struct {
	timeout time.Duration
	logger  *zap.Logger

	// Overridable in tests.
	testDomains   []string
	testEndpoints []string
	lookupHost    func(ctx context.Context, host string) ([]string, error)
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Domains and endpoints that must be unreachable in an air-gapped
// environment.
var (
	externalTestDomains = []string{
		"google.com",
		"microsoft.com",
		"anthropic.com",
		"openai.com",
		"api.openai.com",
	}
	externalTestEndpoints = []string{
		"8.8.8.8:53",
		"1.1.1.1:53",
		"13.107.42.14:443",
	}
	proxyVars = []string{
		"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy",
		"ALL_PROXY", "all_proxy", "NO_PROXY", "no_proxy",
	}
)

// NewValidator builds a validator with a per-probe timeout.
func NewValidator(timeout time.Duration, logger *zap.Logger) *Validator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	resolver := &net.Resolver{}
	dialer := &net.Dialer{Timeout: timeout}
	return &Validator{
		timeout:       timeout,
		logger:        logger.Named("netcheck"),
		testDomains:   externalTestDomains,
		testEndpoints: externalTestEndpoints,
		lookupHost:    resolver.LookupHost,
		dial:          dialer.DialContext,
	}
}

// Validate runs every check and aggregates the result.
func (v *Validator) Validate(ctx context.Context) *Result {
	hostname, _ := os.Hostname()
	result := &Result{
		Overall:   StatusPassed,
		Timestamp: time.Now().UTC(),
		Hostname:  hostname,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	checks := []func(context.Context) Check{
		v.checkExternalDNS,
		v.checkExternalConnections,
		v.checkLoopback,
		v.checkProxyEnvironment,
	}
	for _, fn := range checks {
		check := fn(ctx)
		check.Timestamp = time.Now().UTC()
		result.Checks = append(result.Checks, check)

		switch check.Status {
		case StatusFailed:
			result.Overall = StatusFailed
		case StatusWarning:
			if result.Overall != StatusFailed {
				result.Overall = StatusWarning
			}
		}
	}

	v.logger.Info("network validation complete",
		zap.String("overall", string(result.Overall)),
		zap.Int("checks", len(result.Checks)))
	return result
}

// checkExternalDNS passes only when no external test domain resolves.
func (v *Validator) checkExternalDNS(ctx context.Context) Check {
	var resolved []string
	for _, domain := range v.testDomains {
		probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
		addrs, err := v.lookupHost(probeCtx, domain)
		cancel()
		if err == nil && len(addrs) > 0 {
			resolved = append(resolved, domain)
		}
	}

	if len(resolved) > 0 {
		return Check{
			Name:    "external_dns",
			Status:  StatusFailed,
			Message: fmt.Sprintf("external DNS resolution succeeded for %d domain(s)", len(resolved)),
			Details: map[string]any{"resolved_domains": resolved},
		}
	}
	return Check{
		Name:    "external_dns",
		Status:  StatusPassed,
		Message: "external DNS resolution blocked (all test domains failed to resolve)",
		Details: map[string]any{"tested_domains": v.testDomains},
	}
}

// checkExternalConnections passes only when no external TCP endpoint
// accepts a connection.
func (v *Validator) checkExternalConnections(ctx context.Context) Check {
	var connected []string
	for _, endpoint := range v.testEndpoints {
		probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
		conn, err := v.dial(probeCtx, "tcp", endpoint)
		cancel()
		if err == nil {
			conn.Close()
			connected = append(connected, endpoint)
		}
	}

	if len(connected) > 0 {
		return Check{
			Name:    "external_connections",
			Status:  StatusFailed,
			Message: fmt.Sprintf("external connections succeeded to %d endpoint(s)", len(connected)),
			Details: map[string]any{"connected_to": connected},
		}
	}
	return Check{
		Name:    "external_connections",
		Status:  StatusPassed,
		Message: "external TCP connections blocked (all test endpoints unreachable)",
		Details: map[string]any{"tested_endpoints": v.testEndpoints},
	}
}

// checkLoopback confirms loopback binding works, since the local
// model daemon is reached over it.
func (v *Validator) checkLoopback(ctx context.Context) Check {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Check{
			Name:    "localhost_access",
			Status:  StatusWarning,
			Message: "could not verify localhost access",
			Details: map[string]any{"error": err.Error()},
		}
	}
	ln.Close()
	return Check{
		Name:    "localhost_access",
		Status:  StatusPassed,
		Message: "localhost access confirmed",
	}
}

// checkProxyEnvironment warns on proxy variables that could tunnel
// traffic out of an otherwise isolated host.
func (v *Validator) checkProxyEnvironment(ctx context.Context) Check {
	var found []string
	for _, name := range proxyVars {
		if os.Getenv(name) != "" {
			found = append(found, name)
		}
	}

	if len(found) > 0 {
		return Check{
			Name:    "environment_variables",
			Status:  StatusWarning,
			Message: "proxy environment variables detected",
			Details: map[string]any{"proxy_vars": found},
		}
	}
	return Check{
		Name:    "environment_variables",
		Status:  StatusPassed,
		Message: "no proxy environment variables set",
	}
}

// ValidateEndpoint checks that a single URL points at loopback or a
// private address.
func (v *Validator) ValidateEndpoint(endpoint string) Check {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return Check{
			Name:    "endpoint_validation",
			Status:  StatusFailed,
			Message: fmt.Sprintf("endpoint %q is not a valid URL", endpoint),
		}
	}
	host := strings.ToLower(parsed.Hostname())

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return Check{
			Name:    "endpoint_validation",
			Status:  StatusPassed,
			Message: fmt.Sprintf("endpoint %s is localhost", endpoint),
		}
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return Check{
			Name:    "endpoint_validation",
			Status:  StatusPassed,
			Message: fmt.Sprintf("endpoint %s is private/loopback", endpoint),
		}
	}

	return Check{
		Name:    "endpoint_validation",
		Status:  StatusFailed,
		Message: fmt.Sprintf("endpoint %s is not a localhost address", endpoint),
		Details: map[string]any{"host": host},
	}
}
