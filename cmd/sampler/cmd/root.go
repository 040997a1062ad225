// Package cmd is the sampler command line: a daemon mode for the control
// surface, plus maintenance commands (homing, jogging, drift testing).
package cmd

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "sampler",
	Short: "Drive the laboratory liquid-handling robot",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error creating logger: %s", err)
	}
	return logger
}
