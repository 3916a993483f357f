package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"royalty-risk/internal/app"
	"royalty-risk/internal/montecarlo"
)

var (
	simulateTrials     int
	simulateSeed       uint64
	simulateWorkers    int
	simulateLabel      string
	simulateCSVPath    string
	simulatePNGPath    string
	simulateNoPersist  bool
	simulateFixedDelay float64
	simulateHaircut    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "运行蒙特卡洛模拟并输出风险报告",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTrials < 0 || simulateWorkers < 0 {
			return errors.New("--trials 与 --workers 不能为负数")
		}
		if simulateHaircut < 0 || simulateHaircut >= 1 {
			return errors.New("--haircut 必须位于 [0, 1) 区间")
		}

		opts := app.SimulateOptions{
			Label:     simulateLabel,
			Trials:    simulateTrials,
			Workers:   simulateWorkers,
			CSVPath:   simulateCSVPath,
			PNGPath:   simulatePNGPath,
			NoPersist: simulateNoPersist,
			Stress:    montecarlo.Stress{Haircut: simulateHaircut},
		}
		if cmd.Flags().Changed("seed") {
			seed := simulateSeed
			opts.Seed = &seed
		}
		if cmd.Flags().Changed("fixed-delay") {
			if simulateFixedDelay < 0 {
				return errors.New("--fixed-delay 不能为负数")
			}
			delay := simulateFixedDelay
			opts.Stress.FixedDelayYears = &delay
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateTrials, "trials", 0, "Number of trials (defaults to simulation.trials)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "Override simulation.seed")
	simulateCmd.Flags().IntVar(&simulateWorkers, "workers", 0, "Worker goroutines (defaults to simulation.workers)")
	simulateCmd.Flags().StringVar(&simulateLabel, "label", "", "Label stored with the run")
	simulateCmd.Flags().StringVar(&simulateCSVPath, "csv", "", "Write per-trial samples to this CSV file")
	simulateCmd.Flags().StringVar(&simulatePNGPath, "png", "", "Write the IRR histogram to this PNG file")
	simulateCmd.Flags().BoolVar(&simulateNoPersist, "no-persist", false, "Skip writing the run to the database")
	simulateCmd.Flags().Float64Var(&simulateFixedDelay, "fixed-delay", 0, "Force every trial to this development delay in years")
	simulateCmd.Flags().Float64Var(&simulateHaircut, "haircut", 0, "Volume haircut applied to every trial, e.g. 0.1")
}
