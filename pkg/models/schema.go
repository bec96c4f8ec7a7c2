// Package models defines the metadata value types that are allowed to
// cross the LLM boundary. Every field here describes structure — names,
// type tags, formula text — never cell values. Types that could hold row
// counts or sample data are deliberately absent.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Column describes a single column. No value samples, ever.
type Column struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	TableName   string `json:"table_name"`
	Description string `json:"description,omitempty"`
	IsKey       bool   `json:"is_key"`
	IsNullable  bool   `json:"is_nullable"`
}

// Table describes a table and its columns. Row counts and sample rows
// are not representable.
type Table struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	Description string   `json:"description,omitempty"`
	IsHidden    bool     `json:"is_hidden"`
}

// Measure describes a calculated measure. Expression is formula text,
// not a value.
type Measure struct {
	Name         string `json:"name"`
	Expression   string `json:"expression"`
	TableName    string `json:"table_name"`
	Description  string `json:"description,omitempty"`
	FormatString string `json:"format_string,omitempty"`
}

// Relationship describes an edge between two columns.
type Relationship struct {
	FromTable   string `json:"from_table"`
	FromColumn  string `json:"from_column"`
	ToTable     string `json:"to_table"`
	ToColumn    string `json:"to_column"`
	IsActive    bool   `json:"is_active"`
	Cardinality string `json:"cardinality"`
}

// Schema aggregates the metadata for one model. Built fresh per request
// from connector output and treated as immutable once constructed.
type Schema struct {
	Tables        []Table        `json:"tables"`
	Measures      []Measure      `json:"measures"`
	Relationships []Relationship `json:"relationships"`

	ModelName        string `json:"model_name,omitempty"`
	ModelDescription string `json:"model_description,omitempty"`
}

// ColumnCount returns the total number of columns across all tables.
func (s *Schema) ColumnCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Columns)
	}
	return n
}

// TableNames returns the table names in schema order.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// ToPromptString serializes the schema into the canonical text sent to
// an LLM. The format is stable: it is also what gets hashed for audit
// records, so section order and line shapes must not change casually.
func (s *Schema) ToPromptString() string {
	var b strings.Builder

	b.WriteString("TABLES:")
	for _, table := range s.Tables {
		if table.IsHidden {
			continue
		}

		b.WriteString("\n\n")
		b.WriteString(formatTableName(table.Name))

		if table.Description != "" {
			b.WriteString(fmt.Sprintf("\n  Description: %s", table.Description))
		}

		b.WriteString("\n  Columns:")
		for _, col := range table.Columns {
			b.WriteString(fmt.Sprintf("\n    - %s (%s)", col.Name, col.DataType))
			if col.IsKey {
				b.WriteString(" [KEY]")
			}
			if col.Description != "" {
				b.WriteString(" -- " + col.Description)
			}
		}
	}

	if len(s.Measures) > 0 {
		b.WriteString("\n\nMEASURES:")
		for _, m := range s.Measures {
			b.WriteString(fmt.Sprintf("\n  - [%s].[%s]", m.TableName, m.Name))
			b.WriteString(fmt.Sprintf("\n    Expression: %s", m.Expression))
			if m.Description != "" {
				b.WriteString(fmt.Sprintf("\n    Description: %s", m.Description))
			}
		}
	}

	if len(s.Relationships) > 0 {
		b.WriteString("\n\nRELATIONSHIPS:")
		for _, r := range s.Relationships {
			inactive := ""
			if !r.IsActive {
				inactive = " (inactive)"
			}
			b.WriteString(fmt.Sprintf("\n  - %s[%s] -> %s[%s] (%s)%s",
				r.FromTable, r.FromColumn, r.ToTable, r.ToColumn, r.Cardinality, inactive))
		}
	}

	return b.String()
}

// Hash returns a short stable fingerprint of the canonical prompt text,
// suitable for audit records.
func (s *Schema) Hash() string {
	sum := sha256.Sum256([]byte(s.ToPromptString()))
	return hex.EncodeToString(sum[:])[:16]
}

// formatTableName quotes names containing whitespace or bracket
// characters, matching how DAX references such tables.
func formatTableName(name string) string {
	if strings.ContainsAny(name, " \t[](){}") {
		return "'" + name + "'"
	}
	return name
}
