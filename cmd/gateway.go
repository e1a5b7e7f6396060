package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"texclaw/pkg/channel"
	"texclaw/pkg/channel/telegram"
	"texclaw/pkg/config"
	"texclaw/pkg/gateway"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs texclaw as a channel gateway. Outgoing replies that contain math shorthand are sent as rendered images; /healthz, /readyz and /statusz report service state.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig(false)
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, err := setupLogger(cfg, "cmd.gateway")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"responder", cfg.Responder.Type,
			"model", cfg.Responder.Model,
			"render", cfg.Render.IsEnabled(),
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
