package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Config struct {
	// Identities
	Owner    common.Address `json:"owner"`
	Executor common.Address `json:"executor"`

	// Flash loan settings
	Lending LendingConfig `json:"lending"`

	// Trading venues, exactly two
	Venues []VenueConfig `json:"venues"`

	// Loan parameters used by the run command
	Loan LoanConfig `json:"loan"`

	// Quote caching and upstream rate limiting
	QuoteCache   QuoteCacheConfig `json:"quote_cache"`
	RPCRateLimit RateLimitConfig  `json:"rpc_rate_limit"`

	// Chain access for live quotes
	RPCEndpoint string `json:"rpc_endpoint"`

	// Feature flags
	PrometheusEnabled  bool        `json:"prometheus_enabled"`
	PrometheusEndpoint string      `json:"prometheus_endpoint"`
	Redis              RedisConfig `json:"redis"`

	// Internal components
	Logger *zap.Logger `json:"-"`
}

type LendingConfig struct {
	Pool       common.Address `json:"pool"`
	PremiumBps int64          `json:"premium_bps"`
	Liquidity  *big.Int       `json:"liquidity"`
}

type VenueConfig struct {
	Name     string         `json:"name"`
	Router   common.Address `json:"router"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
}

type LoanConfig struct {
	Asset  common.Address   `json:"asset"`
	Amount *big.Int         `json:"amount"`
	Path   []common.Address `json:"path"`
}

type QuoteCacheConfig struct {
	Size   int           `json:"size"`
	MaxAge time.Duration `json:"max_age"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.Owner == (common.Address{}) {
		errors = append(errors, "owner must be specified")
	}
	if c.Executor == (common.Address{}) {
		errors = append(errors, "executor must be specified")
	}

	if err := c.Lending.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("lending config error: %v", err))
	}

	if len(c.Venues) != 2 {
		errors = append(errors, fmt.Sprintf("exactly two venues are required, got %d", len(c.Venues)))
	} else {
		for i := range c.Venues {
			if err := c.Venues[i].Validate(); err != nil {
				errors = append(errors, fmt.Sprintf("venue %d error: %v", i, err))
			}
		}
		if c.Venues[0].Name == c.Venues[1].Name {
			errors = append(errors, "venue names must be distinct")
		}
		if c.Venues[0].Router == c.Venues[1].Router {
			errors = append(errors, "venue routers must be distinct")
		}
	}

	if err := c.Loan.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("loan config error: %v", err))
	}
	if err := c.QuoteCache.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("quote cache error: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}

	if c.PrometheusEnabled && c.PrometheusEndpoint == "" {
		errors = append(errors, "prometheus_endpoint must be specified when prometheus is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errors = append(errors, "redis addr must be specified when redis is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (l *LendingConfig) Validate() error {
	if l.Pool == (common.Address{}) {
		return fmt.Errorf("pool address must be specified")
	}
	if l.PremiumBps < 0 {
		return fmt.Errorf("premium bps must not be negative")
	}
	if l.Liquidity == nil || l.Liquidity.Sign() <= 0 {
		return fmt.Errorf("liquidity must be positive")
	}
	return nil
}

func (v *VenueConfig) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("venue name must be specified")
	}
	if v.Router == (common.Address{}) {
		return fmt.Errorf("router address must be specified")
	}
	if v.Token0 == v.Token1 {
		return fmt.Errorf("pair tokens must be distinct")
	}
	if v.Reserve0 == nil || v.Reserve0.Sign() <= 0 {
		return fmt.Errorf("reserve0 must be positive")
	}
	if v.Reserve1 == nil || v.Reserve1.Sign() <= 0 {
		return fmt.Errorf("reserve1 must be positive")
	}
	return nil
}

func (l *LoanConfig) Validate() error {
	if l.Asset == (common.Address{}) {
		return fmt.Errorf("loan asset must be specified")
	}
	if l.Amount == nil || l.Amount.Sign() <= 0 {
		return fmt.Errorf("loan amount must be positive")
	}
	if len(l.Path) < 2 {
		return fmt.Errorf("trade path needs at least two tokens")
	}
	if l.Path[0] != l.Asset {
		return fmt.Errorf("trade path must start with the loan asset")
	}
	return nil
}

func (q *QuoteCacheConfig) Validate() error {
	if q.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if q.MaxAge <= 0 {
		return fmt.Errorf("cache max age must be positive")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".flasharb.json")
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.ApplyEnvOverrides()

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".flasharb.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// DefaultConfig returns a complete simulated arbitrage setup: two venues
// quoting the weth/dai pair at different prices and a funded lending pool.
func DefaultConfig() *Config {
	var (
		owner    = common.HexToAddress("0x4bbeEB066eD09B7AEd07bF39EEe0460DFa261520")
		executor = common.HexToAddress("0x32Be343B94f860124dC4fEe278FDCBD38C102D88")
		aavePool = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")
		uniswap  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
		sushi    = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
		weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
		dai      = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	)

	return &Config{
		Owner:    owner,
		Executor: executor,
		Lending: LendingConfig{
			Pool:       aavePool,
			PremiumBps: 9,
			Liquidity:  big.NewInt(50_000_000),
		},
		Venues: []VenueConfig{
			{
				Name:     "uniswap",
				Router:   uniswap,
				Token0:   weth,
				Token1:   dai,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: big.NewInt(200_000_000),
			},
			{
				Name:     "sushiswap",
				Router:   sushi,
				Token0:   weth,
				Token1:   dai,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: big.NewInt(100_000_000),
			},
		},
		Loan: LoanConfig{
			Asset:  weth,
			Amount: big.NewInt(1_000_000),
			Path:   []common.Address{weth, dai},
		},
		QuoteCache: QuoteCacheConfig{
			Size:   512,
			MaxAge: 30 * time.Second,
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
		},
		RPCEndpoint:        "http://localhost:8545",
		PrometheusEnabled:  false,
		PrometheusEndpoint: "",
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Logger: zap.NewNop(),
	}
}
