/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"texclaw/pkg/config"
	"texclaw/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "texclaw",
	Short: "Chat gateway that renders math shorthand as images",
	Long: `texclaw relays chat messages and rewrites outgoing text that contains
math shorthand (a/b, x^2, sqrt(x), greek letter names) into a link to a
rendered LaTeX image.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: config.json, config/config.json or $TEXCLAW_CONFIG)")
}

// loadConfig reads the --config file or the default locations. When optional
// is set a missing config file falls back to config.Default.
func loadConfig(optional bool) (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadFile(path)
	}

	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrNotFound) && optional {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogger installs the configured logger as the slog default.
func setupLogger(cfg *config.Config, component string) (*slog.Logger, error) {
	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return appLogger.With("component", component), nil
}
