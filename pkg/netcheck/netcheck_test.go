package netcheck

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// isolatedValidator simulates a fully air-gapped host: DNS never
// resolves and every dial is refused.
func isolatedValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(100*time.Millisecond, zap.NewNop())
	v.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	v.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	return v
}

func TestValidatePassesWhenIsolated(t *testing.T) {
	for _, name := range proxyVars {
		t.Setenv(name, "")
	}

	result := isolatedValidator(t).Validate(context.Background())
	assert.Equal(t, StatusPassed, result.Overall)
	require.Len(t, result.Checks, 4)
	for _, c := range result.Checks {
		assert.Equal(t, StatusPassed, c.Status, c.Name)
	}
}

func TestValidateFailsWhenDNSResolves(t *testing.T) {
	v := isolatedValidator(t)
	v.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		return []string{"93.184.216.34"}, nil
	}

	result := v.Validate(context.Background())
	assert.Equal(t, StatusFailed, result.Overall)

	var dnsCheck *Check
	for i := range result.Checks {
		if result.Checks[i].Name == "external_dns" {
			dnsCheck = &result.Checks[i]
		}
	}
	require.NotNil(t, dnsCheck)
	assert.Equal(t, StatusFailed, dnsCheck.Status)
	assert.Contains(t, dnsCheck.Message, "5 domain(s)")
}

func TestValidateFailsWhenExternalDialSucceeds(t *testing.T) {
	// A local listener stands in for a reachable external endpoint.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	v := isolatedValidator(t)
	v.testEndpoints = []string{ln.Addr().String()}
	dialer := &net.Dialer{Timeout: 100 * time.Millisecond}
	v.dial = dialer.DialContext

	result := v.Validate(context.Background())
	assert.Equal(t, StatusFailed, result.Overall)
}

func TestValidateWarnsOnProxyVariables(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://proxy.corp:8080")

	result := isolatedValidator(t).Validate(context.Background())
	assert.Equal(t, StatusWarning, result.Overall)
}

func TestValidateEndpoint(t *testing.T) {
	v := isolatedValidator(t)

	assert.Equal(t, StatusPassed, v.ValidateEndpoint("http://localhost:11434").Status)
	assert.Equal(t, StatusPassed, v.ValidateEndpoint("http://127.0.0.1:11434").Status)
	assert.Equal(t, StatusPassed, v.ValidateEndpoint("http://10.0.0.5:11434").Status)
	assert.Equal(t, StatusFailed, v.ValidateEndpoint("https://api.openai.com").Status)
	assert.Equal(t, StatusFailed, v.ValidateEndpoint("://bad url").Status)
}

func TestReportShape(t *testing.T) {
	result := isolatedValidator(t).Validate(context.Background())
	report := result.Report()
	assert.Contains(t, report, "NETWORK ISOLATION VALIDATION REPORT")
	assert.Contains(t, report, "[PASS] external_dns")
	assert.Contains(t, report, "Summary:")
}
