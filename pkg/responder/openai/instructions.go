package openai

import (
	"embed"
	"fmt"
	"strings"
)

const defaultInstructionsName = "instructions"

//go:embed templates/*.md
var templatesFS embed.FS

// resolveInstructions loads the embedded system instructions that steer the
// model toward math shorthand the outbound renderer understands.
func resolveInstructions() (string, error) {
	content, err := templatesFS.ReadFile(templatePath(defaultInstructionsName))
	if err != nil {
		return "", fmt.Errorf("load %s template: %w", defaultInstructionsName, err)
	}

	instructions := strings.TrimSpace(string(content))
	if instructions == "" {
		return "", fmt.Errorf("template %q is empty", defaultInstructionsName)
	}

	return instructions, nil
}

func templatePath(name string) string {
	return "templates/" + strings.TrimSpace(name) + ".md"
}
