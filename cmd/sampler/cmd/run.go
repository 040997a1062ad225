package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/jt05610/sampler/telemetry"
	"github.com/spf13/cobra"
)

var statusInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sampler daemon",
	Long: "Connects the configured hardware backend, restores the last known " +
		"position, and publishes status over AMQP until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		sys, err := buildSystem(logger)
		if err != nil {
			return err
		}
		defer sys.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		go func() {
			<-c
			cancel()
		}()

		if sys.environ.RabbitURI != "" {
			pub, err := telemetry.Dial(sys.environ.RabbitURI, sys.environ.Exchange, logger)
			if err != nil {
				return err
			}
			defer pub.Close()
			go pub.Run(ctx, sys.orch, statusInterval)
			logger.Info("Started 🐰 telemetry")
		}

		logger.Info("sampler running")
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&statusInterval, "status-interval", time.Second, "status publish interval")
	rootCmd.AddCommand(runCmd)
}
