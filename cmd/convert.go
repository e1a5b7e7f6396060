package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"texclaw/pkg/config"
	"texclaw/pkg/intercept"
	"texclaw/pkg/latex"
	"texclaw/pkg/settings"

	"github.com/spf13/cobra"
)

var (
	convertLaTeX bool
	convertTrace bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [text...]",
	Short: "Convert math shorthand into a rendered-image URL",
	Long: `Runs the outbound rewrite pipeline on the given text (or stdin when no
arguments are given) using the saved rule settings. Prints the image URL, or
the input unchanged when nothing was rewritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if convertLaTeX && convertTrace {
			return errors.New("--latex and --trace cannot be combined")
		}

		text, err := resolveConvertInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		cfg, err := loadConfig(true)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pipeline, rules, err := renderSetup(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case convertTrace:
			steps, err := pipeline.Trace(text, rules)
			if err != nil {
				return err
			}
			printTrace(out, steps)
			return nil
		case convertLaTeX:
			rewritten, err := pipeline.Rewrite(text, rules)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rewritten)
			return nil
		}

		result, err := pipeline.Convert(text, rules)
		if err != nil {
			return err
		}
		if !result.Rewritten {
			fmt.Fprintln(out, text)
			return nil
		}
		fmt.Fprintln(out, result.URL)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().BoolVar(&convertLaTeX, "latex", false, "print the rewritten LaTeX instead of the URL")
	convertCmd.Flags().BoolVar(&convertTrace, "trace", false, "print the text after every rewrite stage")
}

// resolveConvertInput joins args, or reads all of stdin when there are none.
// A trailing newline from stdin is not part of the message.
func resolveConvertInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	content, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	return strings.TrimRight(string(content), "\r\n"), nil
}

// renderSetup builds the pipeline from the render section and loads the
// current rules from the settings file.
func renderSetup(cfg *config.Config) (*latex.Pipeline, latex.Rules, error) {
	pipeline, err := intercept.NewPipeline(cfg.Render)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg, nil)
	if err != nil {
		return nil, nil, err
	}

	return pipeline, store.Snapshot(), nil
}

func openStore(cfg *config.Config, log *slog.Logger) (*settings.Store, error) {
	path, err := cfg.Render.ResolveSettingsPath()
	if err != nil {
		return nil, err
	}

	store, err := settings.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("open rule settings: %w", err)
	}

	return store, nil
}

func printTrace(out io.Writer, steps []latex.Step) {
	for _, step := range steps {
		marker := " "
		switch {
		case step.Skipped:
			marker = "-"
		case step.Changed:
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-10s %s\n", marker, step.Stage, step.Text)
	}
}
