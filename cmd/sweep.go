package cmd

import (
	"github.com/spf13/cobra"

	"golang-backtest/internal/dto"
)

var (
	sweepSymbol  string
	sweepStart   string
	sweepHoldout string
	sweepCapList []float64
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the drawdown-cap sweep synchronously and exit",
	Run:   runSweepCmd,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepSymbol, "symbol", "", "instrument symbol (defaults to configuration)")
	sweepCmd.Flags().StringVar(&sweepStart, "start", "", "series start date YYYY-MM-DD")
	sweepCmd.Flags().StringVar(&sweepHoldout, "holdout", "", "holdout start date YYYY-MM-DD")
	sweepCmd.Flags().Float64SliceVar(&sweepCapList, "caps", nil, "drawdown caps to sweep, e.g. -0.25,-0.20,-0.15")
}

func runSweepCmd(cmd *cobra.Command, args []string) {
	req := dto.ResearchRequest{
		Mode:         "sweep",
		Symbol:       sweepSymbol,
		StartDate:    sweepStart,
		HoldoutStart: sweepHoldout,
		SweepCaps:    sweepCapList,
	}
	runOneShot(req)
}
