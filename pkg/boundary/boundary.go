// Package boundary enforces the schema-only data boundary between the
// BI model and any LLM backend. The enforcer takes a raw metadata
// schema, strips or redacts anything value-shaped, and either returns a
// sanitized copy or fails closed with the full violation list.
package boundary

import (
	"fmt"
	"strings"

	"github.com/sulaiman013/powerbi-expert-app/pkg/models"
)

// Element length caps. Oversized fields are truncated, never rejected.
const (
	MaxTableDescriptionLen  = 500
	MaxColumnDescriptionLen = 200
	MaxMeasureExpressionLen = 2000
	MaxPromptBytes          = 50_000
	RedactedText            = "[REDACTED]"
)

// identifierStripper removes structurally dangerous characters from
// table/column/measure names.
var identifierStripper = strings.NewReplacer(
	"<", "", ">", "", "{", "", "}", "", "|", "", "\\", "", "^", "", "`", "",
)

// ViolationKind distinguishes hard leak findings from soft bounds
// findings. Only leak and oversize findings fail a strict sanitize;
// per-field truncation is reported but never fatal.
type ViolationKind string

const (
	ViolationLeak     ViolationKind = "leak"
	ViolationLength   ViolationKind = "length"
	ViolationOversize ViolationKind = "oversize"
)

// Violation records one finding from a sanitize pass.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Element string        `json:"element"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Kind, v.Element, v.Message)
}

// ViolationError is returned when strict mode blocks a schema. It
// always carries every violation found, not just the first.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("data boundary violations detected: [%s]", strings.Join(msgs, "; "))
}

// Config controls what metadata is allowed through the boundary.
type Config struct {
	AllowDescriptions  bool
	AllowMeasures      bool
	AllowRelationships bool
	StrictMode         bool
}

// DefaultConfig allows all metadata classes and enforces strict mode.
func DefaultConfig() Config {
	return Config{
		AllowDescriptions:  true,
		AllowMeasures:      true,
		AllowRelationships: true,
		StrictMode:         true,
	}
}

// Enforcer sanitizes schemas against a pattern set. It is stateless per
// call: concurrent sanitizations need no coordination.
type Enforcer struct {
	cfg      Config
	patterns *PatternSet
}

// NewEnforcer creates an enforcer with the given config and the
// built-in pattern set.
func NewEnforcer(cfg Config) *Enforcer {
	return NewEnforcerWithPatterns(cfg, DefaultPatternSet())
}

// NewEnforcerWithPatterns creates an enforcer with a custom pattern
// set, typically loaded from a versioned YAML file.
func NewEnforcerWithPatterns(cfg Config, patterns *PatternSet) *Enforcer {
	return &Enforcer{cfg: cfg, patterns: patterns}
}

// Config returns the boundary settings in effect.
func (e *Enforcer) Config() Config {
	return e.cfg
}

// PatternVersion returns the version of the active pattern set.
func (e *Enforcer) PatternVersion() string {
	return e.patterns.Version
}

// Sanitize validates and redacts a schema so it is safe to serialize
// into an LLM prompt. It returns the sanitized copy plus every
// violation found. In strict mode any leak or oversize finding fails
// the call with a *ViolationError; the violation list is still
// returned so the caller can audit it. Sanitize is pure: it never
// mutates its input.
func (e *Enforcer) Sanitize(schema *models.Schema) (*models.Schema, []Violation, error) {
	var violations []Violation

	sanitized := &models.Schema{
		ModelName: schema.ModelName,
	}
	if schema.ModelDescription != "" {
		sanitized.ModelDescription = e.sanitizeText(
			schema.ModelDescription, MaxTableDescriptionLen, "model description", &violations)
	}

	for _, table := range schema.Tables {
		sanitized.Tables = append(sanitized.Tables, e.sanitizeTable(table, &violations))
	}

	if e.cfg.AllowMeasures {
		for _, m := range schema.Measures {
			if sm, ok := e.sanitizeMeasure(m, &violations); ok {
				sanitized.Measures = append(sanitized.Measures, sm)
			}
		}
	}

	// Relationships carry only identifier pairs, no free text.
	if e.cfg.AllowRelationships {
		sanitized.Relationships = append(sanitized.Relationships, schema.Relationships...)
	}

	e.validateFinal(sanitized, &violations)

	if e.cfg.StrictMode && hasFatal(violations) {
		return nil, violations, &ViolationError{Violations: violations}
	}
	return sanitized, violations, nil
}

// AuditRecord builds the metadata-only details map recorded for every
// boundary crossing. This record is the evidence that only schema was
// sent: data_included is always false.
func (e *Enforcer) AuditRecord(schema *models.Schema, violations []Violation) map[string]any {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.String()
	}
	return map[string]any{
		"schema_hash":        schema.Hash(),
		"table_count":        len(schema.Tables),
		"column_count":       schema.ColumnCount(),
		"measure_count":      len(schema.Measures),
		"relationship_count": len(schema.Relationships),
		"tables":             schema.TableNames(),
		"data_included":      false,
		"violations":         msgs,
		"pattern_version":    e.patterns.Version,
		"boundary_settings": map[string]any{
			"allow_descriptions":  e.cfg.AllowDescriptions,
			"allow_measures":      e.cfg.AllowMeasures,
			"allow_relationships": e.cfg.AllowRelationships,
			"strict_mode":         e.cfg.StrictMode,
		},
	}
}

func (e *Enforcer) sanitizeTable(table models.Table, violations *[]Violation) models.Table {
	name := sanitizeIdentifier(table.Name)

	out := models.Table{
		Name:     name,
		IsHidden: table.IsHidden,
	}
	if e.cfg.AllowDescriptions && table.Description != "" {
		out.Description = e.sanitizeText(
			table.Description, MaxTableDescriptionLen, fmt.Sprintf("table %s description", name), violations)
	}

	for _, col := range table.Columns {
		sc := models.Column{
			Name:       sanitizeIdentifier(col.Name),
			DataType:   col.DataType,
			TableName:  name,
			IsKey:      col.IsKey,
			IsNullable: col.IsNullable,
		}
		if e.cfg.AllowDescriptions && col.Description != "" {
			sc.Description = e.sanitizeText(
				col.Description, MaxColumnDescriptionLen,
				fmt.Sprintf("column %s.%s description", name, sc.Name), violations)
		}
		out.Columns = append(out.Columns, sc)
	}
	return out
}

func (e *Enforcer) sanitizeMeasure(m models.Measure, violations *[]Violation) (models.Measure, bool) {
	name := sanitizeIdentifier(m.Name)
	expression := m.Expression

	if len(expression) > MaxMeasureExpressionLen {
		*violations = append(*violations, Violation{
			Kind:    ViolationLength,
			Element: fmt.Sprintf("measure %s", name),
			Message: fmt.Sprintf("expression too long (%d chars), truncating", len(expression)),
		})
		expression = expression[:MaxMeasureExpressionLen] + "..."
	}

	if rule := e.patterns.Match(expression); rule != "" {
		*violations = append(*violations, Violation{
			Kind:    ViolationLeak,
			Element: fmt.Sprintf("measure %s", name),
			Message: fmt.Sprintf("expression matches leak pattern %q", rule),
		})
		if e.cfg.StrictMode {
			// Drop the measure entirely rather than forwarding it.
			return models.Measure{}, false
		}
	}

	out := models.Measure{
		Name:         name,
		Expression:   expression,
		TableName:    m.TableName,
		FormatString: m.FormatString,
	}
	if e.cfg.AllowDescriptions && m.Description != "" {
		out.Description = e.sanitizeText(
			m.Description, MaxColumnDescriptionLen, fmt.Sprintf("measure %s description", name), violations)
	}
	return out, true
}

// sanitizeText scans a free-text field against the leak patterns and
// bounds its length. A pattern hit drops the field in strict mode and
// redacts it to a fixed placeholder otherwise.
func (e *Enforcer) sanitizeText(text string, maxLen int, element string, violations *[]Violation) string {
	if rule := e.patterns.Match(text); rule != "" {
		*violations = append(*violations, Violation{
			Kind:    ViolationLeak,
			Element: element,
			// The offending text itself stays out of the message: violation
			// strings travel into logs and audit records.
			Message: fmt.Sprintf("text matches leak pattern %q (%d chars)", rule, len(text)),
		})
		if e.cfg.StrictMode {
			return ""
		}
		return RedactedText
	}

	if len(text) > maxLen {
		return text[:maxLen] + "..."
	}
	return text
}

// validateFinal re-scans the fully assembled prompt text. Per-field
// scanning can miss composition effects; this pass cannot.
func (e *Enforcer) validateFinal(schema *models.Schema, violations *[]Violation) {
	prompt := schema.ToPromptString()

	if len(prompt) > MaxPromptBytes {
		*violations = append(*violations, Violation{
			Kind:    ViolationOversize,
			Element: "schema",
			Message: fmt.Sprintf("serialized schema too large (%d bytes, limit %d)", len(prompt), MaxPromptBytes),
		})
	}

	for _, rule := range e.patterns.MatchAll(prompt) {
		*violations = append(*violations, Violation{
			Kind:    ViolationLeak,
			Element: "schema",
			Message: fmt.Sprintf("final prompt matches leak pattern %q", rule),
		})
	}
}

func hasFatal(violations []Violation) bool {
	for _, v := range violations {
		if v.Kind == ViolationLeak || v.Kind == ViolationOversize {
			return true
		}
	}
	return false
}

func sanitizeIdentifier(name string) string {
	return strings.TrimSpace(identifierStripper.Replace(name))
}
