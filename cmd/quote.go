package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apexmev/flasharb/config"
	"github.com/apexmev/flasharb/ledger"
	"github.com/apexmev/flasharb/metrics"
	"github.com/apexmev/flasharb/utils"
	"github.com/apexmev/flasharb/venue"
	"github.com/apexmev/flasharb/venue/amm"
	"github.com/apexmev/flasharb/venue/uniswap"
)

var (
	quoteAmount string
	quoteLive   bool
	quoteRPC    string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Compare venue quotes for the configured trade path",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}

		amount := cfg.Loan.Amount
		if quoteAmount != "" {
			parsed, ok := new(big.Int).SetString(quoteAmount, 10)
			if !ok || parsed.Sign() <= 0 {
				log.Fatal("Invalid quote amount", zap.String("amount", quoteAmount))
			}
			amount = parsed
		}

		quoters, err := buildQuoters(ctx, cfg)
		if err != nil {
			log.Fatal("Failed to build quoters", zap.Error(err))
		}

		for _, vc := range cfg.Venues {
			amounts, err := quoters[vc.Name].GetAmountsOut(ctx, amount, cfg.Loan.Path)
			if err != nil {
				log.Warn("Quote failed", zap.String("venue", vc.Name), zap.Error(err))
				continue
			}
			fmt.Printf("%-12s %s\n", vc.Name, formatAmounts(amounts))
		}
	},
}

// buildQuoters returns one quoter per venue. By default the quotes come from
// simulated reserves seeded from config; in live mode they come from the
// on-chain routers, cached and rate limited.
func buildQuoters(ctx context.Context, cfg *config.Config) (map[string]venue.Quoter, error) {
	quoters := make(map[string]venue.Quoter, len(cfg.Venues))

	if !quoteLive && quoteRPC == "" {
		book := ledger.New()
		for _, vc := range cfg.Venues {
			router, err := amm.NewRouter(vc.Name, vc.Router, book)
			if err != nil {
				return nil, fmt.Errorf("failed to create router for %s: %w", vc.Name, err)
			}
			if err := router.AddLiquidity(vc.Token0, vc.Token1, vc.Reserve0, vc.Reserve1); err != nil {
				return nil, fmt.Errorf("failed to seed liquidity on %s: %w", vc.Name, err)
			}
			quoters[vc.Name] = router
		}
		return quoters, nil
	}

	endpoint := quoteRPC
	if endpoint == "" {
		endpoint = cfg.RPCEndpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("live quotes need an RPC endpoint, set rpc_endpoint in config or pass --rpc")
	}

	quoterMetrics := metrics.NewQuoterMetrics(prometheus.NewRegistry())
	quoterCfg := venue.CachedQuoterConfig{
		CacheSize: cfg.QuoteCache.Size,
		MaxAge:    cfg.QuoteCache.MaxAge,
		RateLimit: rate.Limit(cfg.RPCRateLimit.RequestsPerSecond),
		RateBurst: cfg.RPCRateLimit.BurstSize,
	}
	for _, vc := range cfg.Venues {
		remote, err := uniswap.Dial(ctx, vc.Name, endpoint, vc.Router)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", vc.Name, err)
		}
		cached, err := venue.NewCachedQuoter(remote, quoterCfg, quoterMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap quoter for %s: %w", vc.Name, err)
		}
		quoters[vc.Name] = cached
	}
	return quoters, nil
}

func formatAmounts(amounts []*big.Int) string {
	parts := make([]string, len(amounts))
	for i, a := range amounts {
		parts[i] = a.String()
	}
	return strings.Join(parts, " -> ")
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "", "input amount to quote (default is the configured loan amount)")
	quoteCmd.Flags().BoolVar(&quoteLive, "live", false, "quote the on-chain routers at rpc_endpoint instead of simulated reserves")
	quoteCmd.Flags().StringVar(&quoteRPC, "rpc", "", "RPC endpoint for live quotes, overriding rpc_endpoint from config")
}
