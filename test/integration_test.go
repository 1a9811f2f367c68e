package test

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v2"

	"github.com/apexmev/flasharb/cmd/app"
	"github.com/apexmev/flasharb/config"
	"github.com/apexmev/flasharb/coordinator"
	"github.com/apexmev/flasharb/lending"
)

type ScenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

type Scenario struct {
	Name          string `yaml:"name"`
	PremiumBps    int64  `yaml:"premium_bps"`
	PoolLiquidity int64  `yaml:"pool_liquidity"`
	LoanAmount    int64  `yaml:"loan_amount"`
	Venues        []struct {
		Reserve0 int64 `yaml:"reserve0"`
		Reserve1 int64 `yaml:"reserve1"`
	} `yaml:"venues"`
	WantSuccess       bool   `yaml:"want_success"`
	WantRetained      int64  `yaml:"want_retained"`
	WantPoolLiquidity int64  `yaml:"want_pool_liquidity"`
	WantError         string `yaml:"want_error"`
}

func loadScenarios(t *testing.T) []Scenario {
	t.Helper()
	raw, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)

	var file ScenarioFile
	require.NoError(t, yaml.Unmarshal(raw, &file))
	require.NotEmpty(t, file.Scenarios)
	return file.Scenarios
}

func scenarioConfig(t *testing.T, s Scenario) *config.Config {
	t.Helper()
	require.Len(t, s.Venues, 2)

	cfg := config.DefaultConfig()
	cfg.Lending.PremiumBps = s.PremiumBps
	cfg.Lending.Liquidity = big.NewInt(s.PoolLiquidity)
	cfg.Loan.Amount = big.NewInt(s.LoanAmount)
	for i, v := range s.Venues {
		cfg.Venues[i].Reserve0 = big.NewInt(v.Reserve0)
		cfg.Venues[i].Reserve1 = big.NewInt(v.Reserve1)
	}
	require.NoError(t, cfg.ValidateConfig())
	return cfg
}

func wantSentinel(t *testing.T, name string) error {
	t.Helper()
	switch name {
	case "unprofitable":
		return coordinator.ErrUnprofitableArbitrage
	case "loan_not_repaid":
		return lending.ErrLoanNotRepaid
	case "insufficient_liquidity":
		return lending.ErrInsufficientLiquidity
	default:
		t.Fatalf("unknown want_error %q", name)
		return nil
	}
}

func TestArbitrageScenarios(t *testing.T) {
	for _, s := range loadScenarios(t) {
		t.Run(s.Name, func(t *testing.T) {
			ctx := context.Background()
			cfg := scenarioConfig(t, s)

			application, err := app.New(ctx, cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			defer application.Close()

			asset := cfg.Loan.Asset
			other := cfg.Loan.Path[1]

			book, err := application.Run(ctx)

			if !s.WantSuccess {
				require.Error(t, err)
				require.ErrorIs(t, err, wantSentinel(t, s.WantError))

				// A failed attempt must leave every balance untouched.
				assert.Equal(t, "0", book.BalanceOf(asset, cfg.Executor).String())
				assert.Equal(t, big.NewInt(s.PoolLiquidity).String(), application.Pool().Liquidity(asset).String())
				for i, router := range application.Routers() {
					r0, r1 := router.Reserves(asset, other)
					assert.Equal(t, big.NewInt(s.Venues[i].Reserve0).String(), r0.String())
					assert.Equal(t, big.NewInt(s.Venues[i].Reserve1).String(), r1.String())
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, big.NewInt(s.WantRetained).String(), book.BalanceOf(asset, cfg.Executor).String())
			assert.Equal(t, big.NewInt(s.WantPoolLiquidity).String(), application.Pool().Liquidity(asset).String())

			// Sweep the profit to the owner to close the cycle.
			amount, err := application.Coordinator().Withdraw(cfg.Owner, asset)
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(s.WantRetained).String(), amount.String())
			assert.Equal(t, big.NewInt(s.WantRetained).String(), book.BalanceOf(asset, cfg.Owner).String())
			assert.Equal(t, "0", book.BalanceOf(asset, cfg.Executor).String())
		})
	}
}

func TestScenarioWithdrawRequiresBalance(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	application, err := app.New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer application.Close()

	_, err = application.Coordinator().Withdraw(cfg.Owner, cfg.Loan.Asset)
	require.ErrorIs(t, err, coordinator.ErrNothingToWithdraw)
}
