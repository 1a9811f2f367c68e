package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexmev/flasharb/cmd/app"
	"github.com/apexmev/flasharb/utils"
)

var withdrawAfter bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one flash loan arbitrage attempt",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}
		cfg.Logger = log

		application, err := app.New(ctx, cfg, log)
		if err != nil {
			log.Fatal("Failed to assemble application", zap.Error(err))
		}
		defer application.Close()

		application.StartMetricsServer(ctx)

		book, err := application.Run(ctx)
		if err != nil {
			log.Fatal("Arbitrage attempt failed", zap.Error(err))
		}

		retained := book.BalanceOf(cfg.Loan.Asset, cfg.Executor)
		log.Info("Arbitrage attempt succeeded",
			zap.String("asset", cfg.Loan.Asset.Hex()),
			zap.String("retained", retained.String()))

		if withdrawAfter {
			amount, err := application.Coordinator().Withdraw(cfg.Owner, cfg.Loan.Asset)
			if err != nil {
				log.Fatal("Failed to withdraw profit", zap.Error(err))
			}
			log.Info("Profit withdrawn",
				zap.String("amount", amount.String()),
				zap.String("owner", cfg.Owner.Hex()))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&withdrawAfter, "withdraw", false, "transfer retained profit to the owner after a successful run")
}
