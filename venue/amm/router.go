// Package amm implements a constant-product swap venue whose pair reserves
// are ordinary ledger balances held by derived pair addresses. Swaps journal
// and revert together with every other balance movement.
package amm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/apexmev/flasharb/ledger"
)

// Pair creation code hash used for deterministic pair addresses.
var pairInitCode = common.FromHex("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")

var (
	// ErrExpired is returned when a swap deadline has already passed.
	ErrExpired = errors.New("deadline expired")
	// ErrInsufficientLiquidity is returned when a pair on the path has an empty reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrInsufficientOutput is returned when the swap output falls below the caller's minimum.
	ErrInsufficientOutput = errors.New("insufficient output amount")
)

// Router is a Uniswap-V2-style router trading against the ledger. Each router
// acts as its own factory, so two venues quoting the same tokens hold
// disjoint reserves.
type Router struct {
	name    string
	address common.Address
	book    *ledger.Ledger
	now     func() time.Time
}

// NewRouter creates a venue router trading against book.
func NewRouter(name string, address common.Address, book *ledger.Ledger) (*Router, error) {
	if name == "" {
		return nil, errors.New("venue name is required")
	}
	if book == nil {
		return nil, errors.New("ledger is required")
	}
	return &Router{
		name:    name,
		address: address,
		book:    book,
		now:     time.Now,
	}, nil
}

// Name returns the venue name.
func (r *Router) Name() string {
	return r.name
}

// Address returns the router address swaps are approved against.
func (r *Router) Address() common.Address {
	return r.address
}

// PairFor calculates the deterministic pair address for two tokens.
func (r *Router) PairFor(token0, token1 common.Address) common.Address {
	if token0.Hex() > token1.Hex() {
		token0, token1 = token1, token0
	}

	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{
		0xff,
	}, r.address.Bytes(), salt, pairInitCode))
}

// AddLiquidity seeds a pair's reserves by minting directly to the pair
// address. Reserves accumulate across calls.
func (r *Router) AddLiquidity(token0, token1 common.Address, amount0, amount1 *big.Int) error {
	if token0 == token1 {
		return fmt.Errorf("identical tokens %s", token0.Hex())
	}
	if amount0 == nil || amount0.Sign() <= 0 || amount1 == nil || amount1.Sign() <= 0 {
		return errors.New("liquidity amounts must be positive")
	}

	pair := r.PairFor(token0, token1)
	if err := r.book.Mint(token0, pair, amount0); err != nil {
		return fmt.Errorf("failed to seed reserve: %w", err)
	}
	if err := r.book.Mint(token1, pair, amount1); err != nil {
		return fmt.Errorf("failed to seed reserve: %w", err)
	}
	return nil
}

// Reserves returns the pair's reserves in (tokenA, tokenB) order.
func (r *Router) Reserves(tokenA, tokenB common.Address) (*big.Int, *big.Int) {
	pair := r.PairFor(tokenA, tokenB)
	return r.book.BalanceOf(tokenA, pair), r.book.BalanceOf(tokenB, pair)
}

// GetAmountsOut quotes the amounts along the path for the given input without
// touching any balance.
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errors.New("input amount must be positive")
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)

	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut := r.Reserves(path[i], path[i+1])
		if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
			return nil, fmt.Errorf("%w: pair %s/%s", ErrInsufficientLiquidity, path[i].Hex(), path[i+1].Hex())
		}
		amounts[i+1] = getAmountOut(amounts[i], reserveIn, reserveOut)
	}

	return amounts, nil
}

// SwapExactTokensForTokens pulls amountIn of path[0] from from under the
// router's allowance, walks it through the pairs and pays the terminal token
// out to to. The whole swap reverts on any failure.
func (r *Router) SwapExactTokensForTokens(ctx context.Context, from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error) {
	if deadline == nil {
		return nil, errors.New("deadline is required")
	}
	if deadline.Cmp(big.NewInt(r.now().Unix())) < 0 {
		return nil, fmt.Errorf("%w: deadline %s", ErrExpired, deadline)
	}

	amounts, err := r.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}

	out := amounts[len(amounts)-1]
	if amountOutMin != nil && out.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, amountOutMin)
	}

	snap := r.book.Snapshot()

	if err := r.book.TransferFrom(path[0], r.address, from, r.PairFor(path[0], path[1]), amounts[0]); err != nil {
		r.book.RevertToSnapshot(snap)
		return nil, fmt.Errorf("failed to pull input amount: %w", err)
	}

	for i := 0; i < len(path)-1; i++ {
		pair := r.PairFor(path[i], path[i+1])
		recipient := to
		if i+1 < len(path)-1 {
			recipient = r.PairFor(path[i+1], path[i+2])
		}
		if err := r.book.Transfer(path[i+1], pair, recipient, amounts[i+1]); err != nil {
			r.book.RevertToSnapshot(snap)
			return nil, fmt.Errorf("failed to pay out hop %d: %w", i, err)
		}
	}

	return amounts, nil
}

func validatePath(path []common.Address) error {
	if len(path) < 2 {
		return fmt.Errorf("invalid path length %d", len(path))
	}
	for i := 0; i < len(path)-1; i++ {
		if path[i] == path[i+1] {
			return fmt.Errorf("path repeats token %s", path[i].Hex())
		}
	}
	return nil
}

// getAmountOut calculates the constant-product output for an input amount,
// after the 0.3% fee.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(1000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
