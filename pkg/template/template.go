// Package template renders message bodies from execution context variables.
package template

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/cadencehq/cadence/pkg/models"
)

// Render expands a text/template body against the given variables. Variables
// are referenced as {{.patient_name}}; unknown references render empty
// rather than failing a send over a missing optional field.
func Render(input string, vars map[string]string) (string, error) {
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var out strings.Builder

	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}

	// missingkey=zero leaves "<no value>" for absent map keys.
	return strings.ReplaceAll(out.String(), "<no value>", ""), nil
}

// RenderWithContext renders against the full variable set visible to the
// execution, including computed values such as days_elapsed.
func RenderWithContext(input string, execCtx models.ExecutionContext) (string, error) {
	return Render(input, execCtx.PlanningVariables())
}

// NeedsTemplating reports whether a string contains template expressions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}
