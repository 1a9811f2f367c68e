package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidPath is returned when a trade path fails structural validation.
var ErrInvalidPath = errors.New("invalid trade path")

// FlashLoanModeNoDebt requests a loan that opens no debt position: principal
// plus premium is due before the operation returns.
const FlashLoanModeNoDebt uint8 = 0

// LoanRequest describes a single-asset flash loan. It is built at initiation,
// consumed immediately by the lending pool, and never persisted.
type LoanRequest struct {
	Asset  common.Address
	Amount *big.Int
	Mode   uint8
}

// NewLoanRequest builds a zero-debt loan request for one asset.
func NewLoanRequest(asset common.Address, amount *big.Int) (LoanRequest, error) {
	if amount == nil || amount.Sign() <= 0 {
		return LoanRequest{}, fmt.Errorf("loan amount must be positive")
	}
	return LoanRequest{
		Asset:  asset,
		Amount: new(big.Int).Set(amount),
		Mode:   FlashLoanModeNoDebt,
	}, nil
}

// Assets returns the request in the slice form the pool interface consumes.
func (r LoanRequest) Assets() []common.Address { return []common.Address{r.Asset} }

// Amounts returns the request amount in slice form.
func (r LoanRequest) Amounts() []*big.Int { return []*big.Int{new(big.Int).Set(r.Amount)} }

// Modes returns the debt mode in slice form.
func (r LoanRequest) Modes() []uint8 { return []uint8{r.Mode} }

// TradePath is the ordered token route for both legs of an arbitrage cycle:
// Path runs origin -> intermediate, Reverse is its exact mirror.
type TradePath struct {
	Path    []common.Address
	Reverse []common.Address
}

// NewTradePath validates and builds a trade path. The reverse leg must be the
// exact mirror of the forward leg; anything else is a precondition failure
// that aborts before any swap.
func NewTradePath(path, reverse []common.Address) (TradePath, error) {
	if len(path) < 2 {
		return TradePath{}, fmt.Errorf("%w: forward leg has %d tokens, need at least 2", ErrInvalidPath, len(path))
	}
	if len(reverse) != len(path) {
		return TradePath{}, fmt.Errorf("%w: reverse leg has %d tokens, forward has %d", ErrInvalidPath, len(reverse), len(path))
	}
	for i := range path {
		if reverse[i] != path[len(path)-1-i] {
			return TradePath{}, fmt.Errorf("%w: reverse leg is not the mirror of the forward leg at index %d", ErrInvalidPath, i)
		}
	}
	return TradePath{
		Path:    append([]common.Address(nil), path...),
		Reverse: append([]common.Address(nil), reverse...),
	}, nil
}

// PathFor builds a trade path from the forward leg alone, deriving the mirror.
func PathFor(path ...common.Address) (TradePath, error) {
	reverse := make([]common.Address, len(path))
	for i, a := range path {
		reverse[len(path)-1-i] = a
	}
	return NewTradePath(path, reverse)
}

// MustPathFor is PathFor for statically known paths; it panics on a malformed
// leg. Intended for tests and wiring code.
func MustPathFor(path ...common.Address) TradePath {
	p, err := PathFor(path...)
	if err != nil {
		panic(err)
	}
	return p
}

// Origin returns the borrowed asset the cycle starts and ends in.
func (p TradePath) Origin() common.Address { return p.Path[0] }

// Intermediate returns the asset held between the two legs.
func (p TradePath) Intermediate() common.Address { return p.Path[len(p.Path)-1] }

// String renders the forward leg as 0xA -> 0xB for logs.
func (p TradePath) String() string {
	s := ""
	for i, a := range p.Path {
		if i > 0 {
			s += " -> "
		}
		s += a.Hex()
	}
	return s
}
