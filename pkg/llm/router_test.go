package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/audit"
	"github.com/sulaiman013/powerbi-expert-app/pkg/boundary"
	"github.com/sulaiman013/powerbi-expert-app/pkg/models"
)

func newTestRouter(t *testing.T, cfg RouterConfig) (*Router, *stubFactory, *audit.Logger) {
	t.Helper()
	logger := zap.NewNop()

	auditLog, err := audit.New(audit.DefaultConfig(t.TempDir()), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	r := NewRouter(cfg, boundary.NewEnforcer(boundary.DefaultConfig()), auditLog, logger)
	f := newStubFactory()
	r.factory = func(c Config, _ *zap.Logger) (Provider, error) {
		return f.build(c)
	}
	return r, f, auditLog
}

func cleanSchema() *models.Schema {
	return &models.Schema{
		Tables: []models.Table{
			{
				Name: "Sales",
				Columns: []models.Column{
					{Name: "SaleID", DataType: "int64", TableName: "Sales", IsKey: true},
					{Name: "Amount", DataType: "decimal", TableName: "Sales"},
					{Name: "CustomerID", DataType: "int64", TableName: "Sales"},
				},
			},
			{
				Name: "Customer",
				Columns: []models.Column{
					{Name: "CustomerID", DataType: "int64", TableName: "Customer", IsKey: true},
					{Name: "Region", DataType: "string", TableName: "Customer"},
				},
			},
		},
		Relationships: []models.Relationship{
			{FromTable: "Sales", FromColumn: "CustomerID", ToTable: "Customer", ToColumn: "CustomerID", IsActive: true, Cardinality: "many-to-one"},
		},
	}
}

func TestAirgapRefusesCloudProviderBeforeConstruction(t *testing.T) {
	r, f, _ := newTestRouter(t, DefaultRouterConfig())

	err := r.InitializeProvider(context.Background(), DefaultConfig(ProviderAzureOpenAI, "https://x.openai.azure.com", "gpt-4o"))
	require.Error(t, err)
	assert.Equal(t, KindPolicy, KindOf(err))

	// The gate runs before the factory: no adapter was ever built.
	assert.Zero(t, f.constructed)
}

func TestAirgapAllowsOllama(t *testing.T) {
	r, f, _ := newTestRouter(t, DefaultRouterConfig())

	err := r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.constructed)
	assert.Equal(t, 1, f.providers[ProviderOllama].initCalls)
	assert.Equal(t, ProviderOllama, r.Primary().Type())
}

func TestConnectedModeAllowsCloudProviders(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeConnected
	r, f, _ := newTestRouter(t, cfg)

	azure := DefaultConfig(ProviderAzureOpenAI, "https://x.openai.azure.com", "gpt-4o")
	azure.AllowedEndpoints = []string{"openai.azure.com"}
	require.NoError(t, r.InitializeProvider(context.Background(), azure))
	assert.Equal(t, 1, f.constructed)
}

func TestGenerateDAXHappyPath(t *testing.T) {
	r, f, auditLog := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	resp, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales amount by customer region")
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.NotEmpty(t, resp.RequestID)

	// The provider saw the sanitized schema text plus intent, never
	// the raw struct.
	stub := f.providers[ProviderOllama]
	require.NotNil(t, stub.lastRequest)
	assert.Contains(t, stub.lastRequest.UserPrompt, "TABLES:")
	assert.Contains(t, stub.lastRequest.UserPrompt, "Sales[CustomerID] -> Customer[CustomerID]")
	assert.Contains(t, stub.lastRequest.UserPrompt, "total sales amount by customer region")

	// The crossing left a verifiable audit trail.
	report := auditLog.VerifyIntegrity("")
	assert.True(t, report.Valid)
	assert.GreaterOrEqual(t, report.EventsChecked, 2)
}

func TestGenerateDAXRejectsEmptyIntent(t *testing.T) {
	r, _, _ := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	_, err := r.GenerateDAX(context.Background(), cleanSchema(), "   ")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestGenerateDAXRejectsInjectionIntent(t *testing.T) {
	r, f, _ := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	_, err := r.GenerateDAX(context.Background(), cleanSchema(), "' OR 1=1 --")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Zero(t, f.providers[ProviderOllama].generateCalls)
}

func TestGenerateDAXPropagatesBoundaryViolations(t *testing.T) {
	r, f, _ := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	schema := cleanSchema()
	schema.Tables[0].Description = "Contact jane@example.com with questions"

	_, err := r.GenerateDAX(context.Background(), schema, "total sales")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	var verr *boundary.ViolationError
	assert.True(t, errors.As(err, &verr))
	assert.Zero(t, f.providers[ProviderOllama].generateCalls)
}

func TestGenerateDAXWithoutProvider(t *testing.T) {
	r, _, _ := newTestRouter(t, DefaultRouterConfig())

	_, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales")
	require.Error(t, err)
	assert.Equal(t, KindNoProvider, KindOf(err))
}

func TestGenerateDAXFailsClosedWithoutAudit(t *testing.T) {
	r, f, auditLog := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	// Closing the audit log makes every append fail.
	require.NoError(t, auditLog.Close())

	_, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales")
	require.Error(t, err)
	assert.Equal(t, KindAudit, KindOf(err))
	assert.Zero(t, f.providers[ProviderOllama].generateCalls)
}

func TestGenerateDAXContinuesWithoutAuditWhenPermitted(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.RequireAudit = false
	r, _, auditLog := newTestRouter(t, cfg)
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))
	require.NoError(t, auditLog.Close())

	resp, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales")
	require.NoError(t, err)
	assert.True(t, resp.Success())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.BreakerThreshold = 2
	r, f, _ := newTestRouter(t, cfg)
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	stub := f.providers[ProviderOllama]
	stub.generateErr = &Error{Kind: KindProvider, Message: "model crashed", Provider: ProviderOllama}

	for i := 0; i < 2; i++ {
		_, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales")
		require.Error(t, err)
	}
	callsBefore := stub.generateCalls

	_, err := r.GenerateDAX(context.Background(), cleanSchema(), "total sales")
	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, callsBefore, stub.generateCalls)
}

func TestSetPrimary(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeConnected
	r, _, _ := newTestRouter(t, cfg)

	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))
	azure := DefaultConfig(ProviderAzureClaude, "https://x.services.ai.azure.com", "claude")
	azure.AllowedEndpoints = []string{"services.ai.azure.com"}
	require.NoError(t, r.InitializeProvider(context.Background(), azure))

	assert.Equal(t, ProviderOllama, r.Primary().Type())
	require.NoError(t, r.SetPrimary(ProviderAzureClaude))
	assert.Equal(t, ProviderAzureClaude, r.Primary().Type())

	err := r.SetPrimary(ProviderAzureOpenAI)
	require.Error(t, err)
	assert.Equal(t, KindNoProvider, KindOf(err))
}

func TestStatusAndShutdown(t *testing.T) {
	r, _, _ := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, r.InitializeProvider(context.Background(), DefaultConfig(ProviderOllama, "http://localhost:11434", "phi4")))

	status := r.Status()
	require.Contains(t, status, ProviderOllama)
	assert.Equal(t, "ready", status[ProviderOllama]["status"])
	assert.Equal(t, "closed", status[ProviderOllama]["circuit"])
	assert.Equal(t, "primary", status[ProviderOllama]["role"])

	health := r.HealthCheck(context.Background())
	assert.True(t, health[ProviderOllama])

	r.Shutdown(context.Background())
	assert.Equal(t, "offline", string(r.Primary().Status()))
}
