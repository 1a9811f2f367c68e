// Package venue defines the trading-venue interfaces the arbitrage engine
// drives, plus the quote cache shared by all implementations.
package venue

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Quoter prices a swap without executing it.
type Quoter interface {
	// GetAmountsOut returns the amounts along the path for the given input,
	// amounts[0] being amountIn and the last element the expected output.
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// Router executes swaps on one venue.
type Router interface {
	Quoter

	// SwapExactTokensForTokens swaps amountIn of path[0] held by from for as
	// much of the terminal token as the pairs give, paying out to to. Fails
	// without effect when the output would be below amountOutMin or the
	// deadline (unix seconds) has passed.
	SwapExactTokensForTokens(ctx context.Context, from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error)
}

// Venue names one trading venue and the router endpoint its swaps go through.
type Venue struct {
	Name   string
	Router common.Address
}
