package cmd

import (
	"context"
	"fmt"

	"texclaw/pkg/intercept"
	"texclaw/pkg/logger"
	"texclaw/pkg/ui/preview"

	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Interactively preview how messages are rewritten",
	Long:  "Opens a terminal view that shows every rewrite stage and the final image URL as you type. Rule changes saved by other commands apply immediately.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pipeline, err := intercept.NewPipeline(cfg.Render)
		if err != nil {
			return err
		}

		store, err := openStore(cfg, logger.Discard())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() { _ = store.Watch(ctx) }()

		return preview.Run(pipeline, store.Snapshot)
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
}
