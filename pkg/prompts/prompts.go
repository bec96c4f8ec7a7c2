// Package prompts builds the DAX-generation prompt pair. The user
// prompt carries only the sanitized schema text and the analyst's
// intent; no prompt here ever references row-level data.
package prompts

import (
	"fmt"
	"strings"
)

const daxSystemPrompt = `You are an expert Power BI DAX developer. You write correct, efficient DAX measures and calculated columns from a data model schema.

Rules:
- You are given the model structure only: table names, column names and types, measure definitions, and relationships. You never see actual data values and must not invent any.
- Respond with a single DAX expression, followed by a short explanation of how it works.
- Prefer measures over calculated columns unless the request clearly needs a column.
- Use fully qualified column references like Table[Column] and respect the relationships provided.
- Use variables (VAR/RETURN) for readability when the expression has more than one step.
- If the schema cannot support the request, say so and name what is missing instead of guessing.`

// SystemPrompt returns the fixed system prompt for DAX generation.
func SystemPrompt() string {
	return daxSystemPrompt
}

// UserPrompt combines the sanitized schema text with the analyst's
// intent.
func UserPrompt(schemaText, intent string) string {
	var b strings.Builder
	b.WriteString("Data model schema:\n\n")
	b.WriteString(schemaText)
	b.WriteString("\n\nRequest: ")
	b.WriteString(strings.TrimSpace(intent))
	b.WriteString("\n\nWrite the DAX for this request.")
	return b.String()
}

// ExplainPrompt asks for a plain-language explanation of an existing
// DAX expression against the schema.
func ExplainPrompt(schemaText, expression string) string {
	return fmt.Sprintf("Data model schema:\n\n%s\n\nExplain what this DAX expression does and whether it is correct for this model:\n\n%s",
		schemaText, strings.TrimSpace(expression))
}
