// Package uniswap provides a read-only quoter over a deployed
// Uniswap-V2-compatible router contract.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Known mainnet router deployments.
var (
	MainnetRouter   = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	SushiswapRouter = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
)

// Router contract ABI, reads only.
const routerABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Quoter reads quotes from a live router contract. It never sends
// transactions.
type Quoter struct {
	name     string
	router   common.Address
	contract *bind.BoundContract
}

// NewQuoter binds the router contract at router through caller.
func NewQuoter(name string, router common.Address, caller bind.ContractCaller) (*Quoter, error) {
	if name == "" {
		return nil, errors.New("venue name is required")
	}
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &Quoter{
		name:     name,
		router:   router,
		contract: bind.NewBoundContract(router, parsedABI, caller, nil, nil),
	}, nil
}

// Dial connects to an RPC endpoint and binds the router there.
func Dial(ctx context.Context, name, rpcURL string, router common.Address) (*Quoter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewQuoter(name, router, client)
}

// Name returns the venue name.
func (q *Quoter) Name() string {
	return q.name
}

// RouterAddress returns the bound router contract address.
func (q *Quoter) RouterAddress() common.Address {
	return q.router
}

// GetAmountsOut asks the router contract for the amounts along the path.
func (q *Quoter) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errors.New("input amount must be positive")
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length %d", len(path))
	}

	var out []interface{}
	if err := q.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, fmt.Errorf("failed to call getAmountsOut: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("empty getAmountsOut response")
	}

	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAmountsOut response type %T", out[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("router returned %d amounts for %d path tokens", len(amounts), len(path))
	}
	return amounts, nil
}
