package boundary

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LeakPattern is one named detection rule. Name shows up in violation
// messages so operators can tell which rule fired.
type LeakPattern struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`

	re *regexp.Regexp
}

// PatternSet is the versioned collection of leak-detection rules.
// Regex detection is heuristic; deployments can extend or replace the
// built-in set via a YAML file without a rebuild.
type PatternSet struct {
	Version  string        `yaml:"version"`
	Patterns []LeakPattern `yaml:"patterns"`
}

// DefaultPatternSet returns the built-in v1 rules: value-shaped tokens
// (SSN, card numbers, emails, currency, IPv4) and SQL/DAX constructs
// that return rows rather than describe structure.
func DefaultPatternSet() *PatternSet {
	ps := &PatternSet{
		Version: "v1",
		Patterns: []LeakPattern{
			{Name: "ssn", Regex: `\b\d{3}-\d{2}-\d{4}\b`},
			{Name: "card_number", Regex: `\b\d{16}\b`},
			{Name: "email", Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
			{Name: "currency", Regex: `\$[\d,]+\.?\d*`},
			{Name: "ipv4", Regex: `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`},
			{Name: "select_star", Regex: `(?i)SELECT\s+\*`},
			{Name: "evaluate_values", Regex: `(?i)EVALUATE\s+VALUES\s*\(`},
			{Name: "sample_call", Regex: `(?i)SAMPLE\s*\(`},
		},
	}
	if err := ps.compile(); err != nil {
		// Built-in patterns are fixed strings; a compile failure is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return ps
}

// LoadPatternSet reads a pattern set from a YAML file.
func LoadPatternSet(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	var ps PatternSet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}
	if ps.Version == "" {
		return nil, fmt.Errorf("pattern file %s missing version", path)
	}
	if len(ps.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file %s contains no patterns", path)
	}

	if err := ps.compile(); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (ps *PatternSet) compile() error {
	for i := range ps.Patterns {
		re, err := regexp.Compile(ps.Patterns[i].Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", ps.Patterns[i].Name, err)
		}
		ps.Patterns[i].re = re
	}
	return nil
}

// Match returns the name of the first rule that matches text, or ""
// when the text is clean.
func (ps *PatternSet) Match(text string) string {
	for i := range ps.Patterns {
		if ps.Patterns[i].re.MatchString(text) {
			return ps.Patterns[i].Name
		}
	}
	return ""
}

// MatchAll returns the names of every rule that matches text.
func (ps *PatternSet) MatchAll(text string) []string {
	var hits []string
	for i := range ps.Patterns {
		if ps.Patterns[i].re.MatchString(text) {
			hits = append(hits, ps.Patterns[i].Name)
		}
	}
	return hits
}
