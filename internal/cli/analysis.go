package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"royalty-risk/internal/app"
)

var (
	breakevenPNGPath string
	delaysValues     []float64
	delaysTrials     int
	historyLimit     int
	historyID        int64
	historyPrune     time.Duration
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Print the deterministic stress scenario table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scenarios(cmd.Context())
	},
}

var breakevenCmd = &cobra.Command{
	Use:   "breakeven",
	Short: "Find the breakeven and IRR-floor price multipliers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Breakeven(cmd.Context(), breakevenPNGPath)
	},
}

var delaysCmd = &cobra.Command{
	Use:   "delays",
	Short: "Rerun the simulation at fixed development delays",
	RunE: func(cmd *cobra.Command, args []string) error {
		if delaysTrials < 0 {
			return fmt.Errorf("--trials cannot be negative")
		}
		return getApp().Delays(cmd.Context(), app.DelayOptions{Delays: delaysValues, Trials: delaysTrials})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent persisted simulation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if historyID < 0 || historyPrune < 0 {
			return fmt.Errorf("--id and --prune cannot be negative")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Limit: historyLimit,
			ID:    historyID,
			Prune: historyPrune,
		})
	},
}

func init() {
	breakevenCmd.Flags().StringVar(&breakevenPNGPath, "png", "", "Write the base and delayed yield curves to this PNG file")

	delaysCmd.Flags().Float64SliceVar(&delaysValues, "delays", nil, "Delay points in years (default 0,0.5,1,1.5,2,3,5)")
	delaysCmd.Flags().IntVar(&delaysTrials, "trials", 10000, "Trials per delay point")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to display")
	historyCmd.Flags().Int64Var(&historyID, "id", 0, "Show a single run in detail")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete runs older than this age first, e.g. 2160h")
}
