package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jt05610/sampler/drift"
	"github.com/jt05610/sampler/motor"
	"github.com/spf13/cobra"
)

var (
	driftAxis       string
	driftCycles     int
	driftStepsPerMM int64
	driftDelay      time.Duration
	driftOut        string
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Measure positional drift of an axis over limit-to-limit cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		id, err := motor.ParseAxisID(driftAxis)
		if err != nil {
			return err
		}

		sys, err := buildSystem(logger)
		if err != nil {
			return err
		}
		defer sys.Close()

		// the plunger has a single switch; discovery needs both
		probe, err := drift.NewProbe(sys.ctrl.Axis(id), drift.Config{
			Cycles:      driftCycles,
			StepDelay:   driftDelay,
			StepsPerMM:  driftStepsPerMM,
			HasSwitches: id != motor.AxisPipette,
		}, sys.ctrl.Stop(), logger)
		if err != nil {
			return err
		}
		if err := probe.Start(); err != nil {
			return err
		}
		probe.Wait()

		res := probe.Status()
		if res.Error != "" {
			return fmt.Errorf("drift run failed: %s", res.Error)
		}
		printSummary(res)
		if driftOut != "" {
			if err := writeResult(driftOut, res); err != nil {
				return err
			}
			fmt.Printf("data saved to %s\n", driftOut)
		}
		return nil
	},
}

func printSummary(res drift.Result) {
	sum := res.Summary()
	fmt.Printf("axis: %s\n", res.Axis)
	if !res.Calibrated {
		fmt.Println("note: no limit switches; step-count sanity check only")
	} else {
		fmt.Printf("direction to max: %s, to min: %s\n", res.ToMax, res.ToMin)
	}
	fmt.Printf("cycles completed: %d\n", sum.CyclesCompleted)
	fmt.Printf("mean forward steps: %.1f\n", sum.MeanForwardSteps)
	fmt.Printf("mean backward steps: %.1f\n", sum.MeanBackwardSteps)
	fmt.Printf("drift mm mean/min/max: %.3f / %.3f / %.3f\n",
		sum.MeanDriftMM, sum.MinDriftMM, sum.MaxDriftMM)
}

func writeResult(path string, res drift.Result) error {
	data, err := json.MarshalIndent(&res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	driftCmd.Flags().StringVar(&driftAxis, "axis", "x", "axis to test")
	driftCmd.Flags().IntVar(&driftCycles, "cycles", 100, "number of round trips")
	driftCmd.Flags().Int64Var(&driftStepsPerMM, "steps-per-mm", 200, "steps per millimeter")
	driftCmd.Flags().DurationVar(&driftDelay, "delay", time.Millisecond, "per-pulse delay")
	driftCmd.Flags().StringVar(&driftOut, "out", "", "write cycle data to a JSON file")
	rootCmd.AddCommand(driftCmd)
}
