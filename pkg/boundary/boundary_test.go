package boundary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulaiman013/powerbi-expert-app/pkg/models"
)

func cleanSchema() *models.Schema {
	return &models.Schema{
		Tables: []models.Table{
			{
				Name: "Sales",
				Columns: []models.Column{
					{Name: "Amount", DataType: "Decimal", TableName: "Sales"},
					{Name: "CustomerID", DataType: "Int64", TableName: "Sales", IsKey: true},
				},
			},
			{
				Name: "Customer",
				Columns: []models.Column{
					{Name: "CustomerID", DataType: "Int64", TableName: "Customer", IsKey: true},
					{Name: "Name", DataType: "String", TableName: "Customer"},
					{Name: "Region", DataType: "String", TableName: "Customer"},
				},
			},
		},
		Relationships: []models.Relationship{
			{
				FromTable:   "Sales",
				FromColumn:  "CustomerID",
				ToTable:     "Customer",
				ToColumn:    "CustomerID",
				IsActive:    true,
				Cardinality: "many-to-one",
			},
		},
	}
}

func TestSanitize_CleanSchemaPassesUntouched(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	sanitized, violations, err := e.Sanitize(cleanSchema())
	require.NoError(t, err)
	assert.Empty(t, violations)

	prompt := sanitized.ToPromptString()
	assert.Contains(t, prompt, "TABLES:")
	assert.Contains(t, prompt, "Sales")
	assert.Contains(t, prompt, "Customer")
	assert.Contains(t, prompt, "RELATIONSHIPS:")
	assert.Contains(t, prompt, "Sales[CustomerID] -> Customer[CustomerID] (many-to-one)")
}

func TestSanitize_EmailInDescription(t *testing.T) {
	t.Run("strict mode fails closed", func(t *testing.T) {
		e := NewEnforcer(DefaultConfig())
		s := cleanSchema()
		s.Tables[1].Description = "contact a@b.com"

		sanitized, violations, err := e.Sanitize(s)
		require.Error(t, err)
		assert.Nil(t, sanitized)
		assert.NotEmpty(t, violations)

		var vErr *ViolationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, violations, vErr.Violations)
	})

	t.Run("non-strict redacts", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.StrictMode = false
		e := NewEnforcer(cfg)
		s := cleanSchema()
		s.Tables[1].Description = "contact a@b.com"

		sanitized, violations, err := e.Sanitize(s)
		require.NoError(t, err)
		assert.NotEmpty(t, violations)
		assert.Equal(t, RedactedText, sanitized.Tables[1].Description)
	})
}

func TestSanitize_LeakPatterns(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"ssn", "employee id 123-45-6789 here"},
		{"card number", "card 4111111111111111 on file"},
		{"email", "reach us at sales@example.com"},
		{"currency", "worth $1,234.56 in total"},
		{"ipv4", "server at 10.0.0.12"},
		{"select star", "derived via SELECT * FROM staging"},
		{"evaluate values", "EVALUATE VALUES(Customer[Name])"},
		{"sample call", "uses SAMPLE(10, Sales, Sales[Amount])"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer(DefaultConfig())
			s := cleanSchema()
			s.Tables[0].Description = tt.text

			_, violations, err := e.Sanitize(s)
			assert.Error(t, err)
			assert.NotEmpty(t, violations)
		})
	}
}

func TestSanitize_MeasureWithSelectStarDroppedInStrict(t *testing.T) {
	cfg := DefaultConfig()
	// Disable strict failure propagation check separately below; here we
	// verify the measure is dropped and named in the violation list.
	e := NewEnforcer(cfg)
	s := cleanSchema()
	s.Measures = []models.Measure{
		{Name: "Bad Measure", Expression: "SELECT * FROM x", TableName: "Sales"},
		{Name: "Total", Expression: "SUM(Sales[Amount])", TableName: "Sales"},
	}

	sanitized, violations, err := e.Sanitize(s)
	require.Error(t, err)
	assert.Nil(t, sanitized)

	found := false
	for _, v := range violations {
		if strings.Contains(v.Element, "Bad Measure") {
			found = true
		}
	}
	assert.True(t, found, "violation list should reference the measure name, got %v", violations)
}

func TestSanitize_MeasureDropKeepsCleanMeasuresNonStrict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = false
	e := NewEnforcer(cfg)
	s := cleanSchema()
	s.Measures = []models.Measure{
		{Name: "Bad", Expression: "SELECT * FROM x", TableName: "Sales"},
		{Name: "Total", Expression: "SUM(Sales[Amount])", TableName: "Sales"},
	}

	sanitized, violations, err := e.Sanitize(s)
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
	// Non-strict forwards both measures, recording the violation.
	assert.Len(t, sanitized.Measures, 2)
}

func TestSanitize_LongExpressionTruncatedNotFatal(t *testing.T) {
	e := NewEnforcer(DefaultConfig())
	s := cleanSchema()
	long := strings.Repeat("SUM(Sales[Qty]) + ", 200) // > 2000 chars, clean
	s.Measures = []models.Measure{{Name: "Huge", Expression: long, TableName: "Sales"}}

	sanitized, violations, err := e.Sanitize(s)
	require.NoError(t, err, "merely-long-but-clean input must not fail strict mode")
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationLength, violations[0].Kind)
	assert.Len(t, sanitized.Measures[0].Expression, MaxMeasureExpressionLen+3)
	assert.True(t, strings.HasSuffix(sanitized.Measures[0].Expression, "..."))
}

func TestSanitize_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = false
	e := NewEnforcer(cfg)
	s := cleanSchema()
	s.Tables[0].Description = strings.Repeat("Sales fact table. ", 40) // forces truncation
	s.Measures = []models.Measure{{Name: "Total", Expression: "SUM(Sales[Amount])", TableName: "Sales"}}

	once, _, err := e.Sanitize(s)
	require.NoError(t, err)

	twice, _, err := e.Sanitize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSanitize_StripsDangerousIdentifierChars(t *testing.T) {
	e := NewEnforcer(DefaultConfig())
	s := cleanSchema()
	s.Tables[0].Name = "Sa<le>s{}|\\^`"
	s.Tables[0].Columns[0].Name = "Am<ount>"

	sanitized, _, err := e.Sanitize(s)
	require.NoError(t, err)
	assert.Equal(t, "Sales", sanitized.Tables[0].Name)
	assert.Equal(t, "Amount", sanitized.Tables[0].Columns[0].Name)
}

func TestSanitize_ConfigGates(t *testing.T) {
	s := cleanSchema()
	s.Measures = []models.Measure{{Name: "Total", Expression: "SUM(Sales[Amount])", TableName: "Sales"}}
	s.Tables[0].Description = "Fact table"

	cfg := Config{AllowDescriptions: false, AllowMeasures: false, AllowRelationships: false, StrictMode: true}
	e := NewEnforcer(cfg)

	sanitized, violations, err := e.Sanitize(s)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Empty(t, sanitized.Measures)
	assert.Empty(t, sanitized.Relationships)
	assert.Empty(t, sanitized.Tables[0].Description)
}

func TestSanitize_OversizeSchemaIsViolation(t *testing.T) {
	e := NewEnforcer(DefaultConfig())
	s := &models.Schema{}
	for i := 0; i < 600; i++ {
		s.Tables = append(s.Tables, models.Table{
			Name: strings.Repeat("T", 90) + string(rune('a'+i%26)),
			Columns: []models.Column{
				{Name: "ColumnOne", DataType: "String"},
				{Name: "ColumnTwo", DataType: "String"},
			},
		})
	}
	require.Greater(t, len(s.ToPromptString()), MaxPromptBytes)

	_, violations, err := e.Sanitize(s)
	require.Error(t, err)

	oversize := false
	for _, v := range violations {
		if v.Kind == ViolationOversize {
			oversize = true
		}
	}
	assert.True(t, oversize)
}

func TestAuditRecord_NeverClaimsData(t *testing.T) {
	e := NewEnforcer(DefaultConfig())
	s := cleanSchema()
	sanitized, violations, err := e.Sanitize(s)
	require.NoError(t, err)

	record := e.AuditRecord(sanitized, violations)
	assert.Equal(t, false, record["data_included"])
	assert.Equal(t, 2, record["table_count"])
	assert.Equal(t, 5, record["column_count"])
	assert.Equal(t, sanitized.Hash(), record["schema_hash"])
	assert.Equal(t, "v1", record["pattern_version"])
}

func TestDefaultPatternSet_Versioned(t *testing.T) {
	ps := DefaultPatternSet()
	assert.Equal(t, "v1", ps.Version)
	assert.Equal(t, "email", ps.Match("x a@b.com y"))
	assert.Empty(t, ps.Match("Sales[Amount]"))
}

func TestLoadPatternSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	content := "version: v2\npatterns:\n  - name: phone\n    regex: '\\b\\d{3}-\\d{4}\\b'\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ps, err := LoadPatternSet(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", ps.Version)
	assert.Equal(t, "phone", ps.Match("call 555-1234"))
}

func TestLoadPatternSet_Invalid(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v2\npatterns:\n  - name: broken\n    regex: '('\n"), 0o644))
	_, err := LoadPatternSet(path)
	assert.Error(t, err)

	path = filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v2\npatterns: []\n"), 0o644))
	_, err = LoadPatternSet(path)
	assert.Error(t, err)
}
