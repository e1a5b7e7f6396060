package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"texclaw/pkg/latex"
	"texclaw/pkg/settings"

	"github.com/spf13/cobra"
)

const allRules = "all"

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show or toggle the math rewrite rules",
	Long:  "Lists and toggles the rewrite rules saved in the rule settings file. A running gateway picks up changes without a restart.",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every rule and whether it is enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := rulesStore()
		if err != nil {
			return err
		}

		printRules(cmd.OutOrStdout(), store.Snapshot())
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule>... | all",
	Short: "Enable one or more rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(cmd.OutOrStdout(), args, true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule>... | all",
	Short: "Disable one or more rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(cmd.OutOrStdout(), args, false)
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesEnableCmd, rulesDisableCmd)
	rootCmd.AddCommand(rulesCmd)
}

func rulesStore() (*settings.Store, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return openStore(cfg, nil)
}

func toggleRules(out io.Writer, args []string, enabled bool) error {
	changes, err := ruleChanges(args, enabled)
	if err != nil {
		return err
	}

	store, err := rulesStore()
	if err != nil {
		return err
	}
	if err := store.Update(changes); err != nil {
		return err
	}

	printRules(out, store.Snapshot())
	return nil
}

// ruleChanges maps rule arguments to the requested state. "all" expands to
// every known rule.
func ruleChanges(args []string, enabled bool) (map[latex.RuleID]bool, error) {
	changes := make(map[latex.RuleID]bool, len(args))
	for _, arg := range args {
		name := strings.ToLower(strings.TrimSpace(arg))
		if name == "" {
			continue
		}
		if name == allRules {
			for _, id := range latex.KnownRules() {
				changes[id] = enabled
			}
			continue
		}

		id := latex.RuleID(name)
		if !latex.IsKnownRule(id) {
			return nil, fmt.Errorf("%w: %s", settings.ErrUnknownRule, arg)
		}
		changes[id] = enabled
	}

	if len(changes) == 0 {
		return nil, errors.New("no rules given")
	}

	return changes, nil
}

func printRules(out io.Writer, rules latex.Rules) {
	for _, id := range latex.KnownRules() {
		state := "off"
		if rules.Enabled(id) {
			state = "on"
		}
		fmt.Fprintf(out, "%-10s %-3s  %s\n", id, state, ruleDescription(id))
	}
}

func ruleDescription(id latex.RuleID) string {
	switch id {
	case latex.RuleFractions:
		return `a/b -> \frac{a}{b}`
	case latex.RuleExponents:
		return `x^2 -> x^{ 2 }`
	case latex.RuleSqrt:
		return `sqrt(x) -> \sqrt{x}`
	}

	for _, letter := range latex.Lexicon() {
		if letter.Rule == id {
			return letter.Word + " -> " + letter.Command
		}
	}

	return ""
}
