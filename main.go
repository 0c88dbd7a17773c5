package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Grab/internal"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	log        = logger.Get("Bootstrap")
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "grab",
	Short:        "Grab resolves, downloads and serves remote media over HTTP.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := internal.LoadConfig(configFile)
		if err != nil {
			return err
		}

		if level, err := logger.ParseLevel(config.LogLevel); err == nil {
			logger.SetMinLoggingLevel(level.Level())
		} else {
			log.Warnf("%v, defaulting to INFO\n", err)
		}

		grab, err := internal.New(*config)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		log.Emit(logger.INFO, "Starting Grab\n")
		defer log.Emit(logger.STOP, "Grab stopped\n")
		return grab.Run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (defaults to environment only)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
