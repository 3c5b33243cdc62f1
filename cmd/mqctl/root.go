package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-messaging/pkg/bootstrap"
	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/logging"
)

var (
	loadSettings   = config.LoadFromFile
	startMessaging = func(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (*bootstrap.Messaging, error) {
		return bootstrap.New(ctx, settings, logger)
	}
)

type rootOptions struct {
	configDir string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "mqctl",
		Short: "Send, consume and replay messages through the broker-agnostic messaging layer",
		Long: `mqctl loads messaging.yaml, detects the linked broker integrations and exposes the
messaging template and listener registry from the command line.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configDir, "config", "c", ".", "Directory containing messaging.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		newTypesCmd(opts),
		newSendCmd(opts),
		newListenCmd(opts),
		newReplayCmd(opts),
	)
	return rootCmd
}

// start loads settings and assembles the messaging layer.
func (o *rootOptions) start(ctx context.Context) (*bootstrap.Messaging, *config.Settings, zerolog.Logger, error) {
	settings, err := loadSettings(o.configDir)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		settings.Logging.Level = o.logLevel
	}
	logger, err := logging.New(settings.Logging)
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("invalid logging settings: %w", err)
	}
	m, err := startMessaging(ctx, settings, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return m, settings, logger, nil
}
