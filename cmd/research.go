package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"golang-backtest/internal/dto"
	"golang-backtest/internal/repository"
	"golang-backtest/internal/service"
)

var (
	researchMode       string
	researchSymbol     string
	researchStart      string
	researchHoldout    string
	researchDDCap      float64
	researchStrategies []string
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run one research pipeline synchronously and exit",
	Run:   runResearchCmd,
}

func init() {
	researchCmd.Flags().StringVar(&researchMode, "mode", "ddcap", "run mode: ddcap, walkforward or sweep")
	researchCmd.Flags().StringVar(&researchSymbol, "symbol", "", "instrument symbol (defaults to configuration)")
	researchCmd.Flags().StringVar(&researchStart, "start", "", "series start date YYYY-MM-DD")
	researchCmd.Flags().StringVar(&researchHoldout, "holdout", "", "holdout start date YYYY-MM-DD")
	researchCmd.Flags().Float64Var(&researchDDCap, "dd-cap", 0, "hard drawdown cap, e.g. -0.20")
	researchCmd.Flags().StringSliceVar(&researchStrategies, "strategies", nil, "strategy names to evaluate")
}

func runResearchCmd(cmd *cobra.Command, args []string) {
	req := dto.ResearchRequest{
		Mode:         researchMode,
		Symbol:       researchSymbol,
		StartDate:    researchStart,
		HoldoutStart: researchHoldout,
		DDCap:        researchDDCap,
		Strategies:   researchStrategies,
	}
	runOneShot(req)
}

// runOneShot wires the same service stack the API server uses, executes a
// single run in the foreground, and exits.
func runOneShot(req dto.ResearchRequest) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	repo, err := repository.NewRepository(appDep.cfg, appDep.cache, appDep.db.DB, appDep.log)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}

	services := service.NewService(appDep.cfg, appDep.log, repo, appDep.notifier)

	run, err := services.ResearchService.CreateRun(ctx, req)
	if err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}

	if err := services.ResearchService.ExecuteRun(ctx, run.ID); err != nil {
		log.Fatalf("Run %d failed: %v", run.ID, err)
	}

	appDep.log.Info("Run completed",
		zap.Uint("run_id", run.ID),
		zap.String("mode", string(run.Mode)),
	)
}
