package preview

import (
	"errors"

	"texclaw/pkg/latex"

	tea "github.com/charmbracelet/bubbletea"
)

// RulesFunc returns the rules in force for the next evaluation.
type RulesFunc func() latex.Rules

// Run starts the interactive preview until the user quits.
func Run(pipeline *latex.Pipeline, rules RulesFunc) error {
	if pipeline == nil {
		return errors.New("pipeline is required")
	}
	if rules == nil {
		rules = latex.DefaultRules
	}

	program := tea.NewProgram(newModel(pipeline, rules), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	return err
}
