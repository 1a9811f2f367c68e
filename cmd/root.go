package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/apexmev/flasharb/config"
	"github.com/apexmev/flasharb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "A flash loan arbitrage executor for two-venue price gaps",
	Long: `A flash loan arbitrage executor that borrows from a lending pool,
trades a price gap between two venues and repays the loan plus premium
in one atomic operation.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flasharb.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}

func loadConfig() (*config.Config, error) {
	// A missing .env file is fine, the environment may be set another way.
	_ = config.LoadEnv()

	if cfgFile != "" {
		return config.LoadConfig(cfgFile)
	}
	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}
