package cmd

import (
	"fmt"

	"github.com/jt05610/sampler/motor"
	"github.com/spf13/cobra"
)

var jogDir string

var jogCmd = &cobra.Command{
	Use:   "jog <axis> <steps>",
	Short: "Move one axis a number of steps, respecting limits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		id, err := motor.ParseAxisID(args[0])
		if err != nil {
			return err
		}
		var steps int64
		if _, err := fmt.Sscanf(args[1], "%d", &steps); err != nil || steps < 1 {
			return fmt.Errorf("steps must be a positive integer, got %q", args[1])
		}
		dir := motor.Clockwise
		switch jogDir {
		case "cw":
		case "ccw":
			dir = motor.CounterClockwise
		default:
			return fmt.Errorf("direction must be cw or ccw, got %q", jogDir)
		}

		sys, err := buildSystem(logger)
		if err != nil {
			return err
		}
		defer sys.Close()

		executed, state, err := sys.ctrl.Jog(id, steps, dir)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d/%d steps executed, limit: %s\n", id, executed, steps, state)
		return nil
	},
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Return the head to well A1",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		sys, err := buildSystem(logger)
		if err != nil {
			return err
		}
		defer sys.Close()
		return sys.orch.Home()
	},
}

func init() {
	jogCmd.Flags().StringVar(&jogDir, "dir", "cw", "direction (cw or ccw)")
	rootCmd.AddCommand(jogCmd)
	rootCmd.AddCommand(homeCmd)
}
