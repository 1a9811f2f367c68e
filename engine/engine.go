// Package engine drives the two-leg arbitrage cycle: compare the configured
// venues, swap forward on the winner, swap back on the other, measure profit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/apexmev/flasharb/ledger"
	"github.com/apexmev/flasharb/metrics"
	"github.com/apexmev/flasharb/types"
	"github.com/apexmev/flasharb/venue"
)

// swapDeadline bounds each venue call.
const swapDeadline = time.Hour

// minSwapOutput accepts any nonzero output per leg; profitability is enforced
// on the whole cycle, not per leg.
var minSwapOutput = big.NewInt(1)

// Engine runs the arbitrage cycle between exactly two venues.
type Engine struct {
	venueA  venue.Venue
	venueB  venue.Venue
	routers map[common.Address]venue.Router
	book    *ledger.Ledger
	logger  *zap.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

// NewEngine creates an engine trading between venueA and venueB. routers maps
// each venue's router address to its implementation.
func NewEngine(venueA, venueB venue.Venue, routers map[common.Address]venue.Router, book *ledger.Ledger, logger *zap.Logger, m *metrics.EngineMetrics) (*Engine, error) {
	if book == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if venueA.Router == venueB.Router {
		return nil, fmt.Errorf("venues share router %s", venueA.Router.Hex())
	}
	for _, v := range []venue.Venue{venueA, venueB} {
		if v.Name == "" {
			return nil, errors.New("venue name is required")
		}
		if _, ok := routers[v.Router]; !ok {
			return nil, fmt.Errorf("no router registered for venue %s at %s", v.Name, v.Router.Hex())
		}
	}

	return &Engine{
		venueA:  venueA,
		venueB:  venueB,
		routers: routers,
		book:    book,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Compare quotes both venues for the same input and path and returns the one
// offering the larger output. The second venue wins only on strictly larger
// output; ties go to the first.
func (e *Engine) Compare(ctx context.Context, amountIn *big.Int, path []common.Address) (venue.Venue, *big.Int, error) {
	e.metrics.Comparisons.Inc()

	quoteA, err := e.quote(ctx, e.venueA, amountIn, path)
	if err != nil {
		return venue.Venue{}, nil, fmt.Errorf("failed to quote %s: %w", e.venueA.Name, err)
	}
	quoteB, err := e.quote(ctx, e.venueB, amountIn, path)
	if err != nil {
		return venue.Venue{}, nil, fmt.Errorf("failed to quote %s: %w", e.venueB.Name, err)
	}

	e.logger.Debug("Venues quoted",
		zap.String(e.venueA.Name, quoteA.String()),
		zap.String(e.venueB.Name, quoteB.String()))

	if quoteB.Cmp(quoteA) > 0 {
		return e.venueB, quoteB, nil
	}
	return e.venueA, quoteA, nil
}

// Swap executes one leg on v: from's funds are approved to the venue's
// router for exactly amountIn, the router is asked for any nonzero output
// within the deadline window, and the amount actually received is measured
// as recipient's balance delta of the trailing token rather than trusted
// from the router's return value.
func (e *Engine) Swap(ctx context.Context, v venue.Venue, from common.Address, amountIn *big.Int, path []common.Address, recipient common.Address) (*big.Int, error) {
	router, err := e.resolveRouter(v)
	if err != nil {
		return nil, err
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length %d", len(path))
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errors.New("input amount must be positive")
	}

	start := time.Now()
	tokenIn, tokenOut := path[0], path[len(path)-1]

	if err := e.book.Approve(tokenIn, from, v.Router, amountIn); err != nil {
		return nil, fmt.Errorf("failed to approve router: %w", err)
	}

	before := e.book.BalanceOf(tokenOut, recipient)
	deadline := big.NewInt(e.now().Add(swapDeadline).Unix())

	if _, err := router.SwapExactTokensForTokens(ctx, from, amountIn, minSwapOutput, path, recipient, deadline); err != nil {
		return nil, fmt.Errorf("swap on %s failed: %w", v.Name, err)
	}

	received := new(big.Int).Sub(e.book.BalanceOf(tokenOut, recipient), before)

	e.metrics.Swaps.WithLabelValues(v.Name).Inc()
	e.metrics.SwapLatency.Observe(time.Since(start).Seconds())
	e.logger.Debug("Swap executed",
		zap.String("venue", v.Name),
		zap.String("amount_in", amountIn.String()),
		zap.String("received", received.String()))

	return received, nil
}

// Run executes the full cycle for self's funds: forward swap of amountIn on
// the winning venue, reverse swap of the intermediate proceeds on the other.
// It reports success only for strictly positive profit, with the computed
// profit (zero on failure). The baseline balance already contains the
// borrowed principal and the loan premium is not subtracted here.
func (e *Engine) Run(ctx context.Context, self, originAsset common.Address, amountIn *big.Int, path types.TradePath) (bool, *big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return false, nil, errors.New("input amount must be positive")
	}

	initial := e.book.BalanceOf(originAsset, self)

	winner, expected, err := e.Compare(ctx, amountIn, path.Path)
	if err != nil {
		return false, nil, err
	}
	loser := e.other(winner)

	e.logger.Info("Venue selected for forward leg",
		zap.String("venue", winner.Name),
		zap.String("expected_out", expected.String()))

	intermediate, err := e.Swap(ctx, winner, self, amountIn, path.Path, self)
	if err != nil {
		return false, nil, fmt.Errorf("forward leg failed: %w", err)
	}
	if intermediate.Sign() <= 0 {
		return false, nil, fmt.Errorf("forward leg on %s delivered no output", winner.Name)
	}

	if _, err := e.Swap(ctx, loser, self, intermediate, path.Reverse, self); err != nil {
		return false, nil, fmt.Errorf("reverse leg failed: %w", err)
	}

	profit := new(big.Int).Sub(e.book.BalanceOf(originAsset, self), initial)
	if profit.Sign() <= 0 {
		e.logger.Info("Cycle closed without profit", zap.String("delta", profit.String()))
		return false, big.NewInt(0), nil
	}

	e.logger.Info("Cycle closed with profit",
		zap.String("profit", profit.String()),
		zap.String("forward_venue", winner.Name),
		zap.String("reverse_venue", loser.Name))
	return true, profit, nil
}

func (e *Engine) other(v venue.Venue) venue.Venue {
	if v == e.venueA {
		return e.venueB
	}
	return e.venueA
}

func (e *Engine) quote(ctx context.Context, v venue.Venue, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	router, err := e.resolveRouter(v)
	if err != nil {
		return nil, err
	}
	amounts, err := router.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, errors.New("empty quote")
	}
	return amounts[len(amounts)-1], nil
}

func (e *Engine) resolveRouter(v venue.Venue) (venue.Router, error) {
	router, ok := e.routers[v.Router]
	if !ok {
		return nil, fmt.Errorf("no router registered for venue %s", v.Name)
	}
	return router, nil
}
