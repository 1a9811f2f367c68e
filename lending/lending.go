// Package lending defines the flash-loan surface and a simulated
// Aave-V2-style pool that lends off the ledger.
package lending

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AddressesProvider resolves the currently active lending pool. Callers
// resolve the pool fresh for every interaction; holding on to a resolved
// address across operations is a defect once the pool migrates.
type AddressesProvider interface {
	GetPool() common.Address
}

// Receiver is the borrowing side of a flash loan. The pool credits the
// loaned funds to Address() and synchronously invokes ExecuteOperation.
type Receiver interface {
	// ExecuteOperation runs the borrower's logic. caller identifies who
	// invoked the callback; implementations must verify it is the active
	// pool before acting. initiator is the onBehalfOf identity passed to
	// FlashLoan. Returning false or an error abandons the loan.
	ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) (bool, error)

	// Address returns the ledger identity the pool credits funds to.
	Address() common.Address
}

// Pool issues flash loans.
type Pool interface {
	// FlashLoan transfers the requested amounts to receiver, invokes its
	// ExecuteOperation callback and pulls principal plus premium back under
	// the receiver's allowance. Any failure reverts every balance movement
	// the loan caused.
	FlashLoan(ctx context.Context, receiver Receiver, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, params []byte, referralCode uint16) error
}

// Provider is a mutable addresses provider. The active pool can be
// repointed the way lending-protocol governance migrates pools.
type Provider struct {
	mu   sync.RWMutex
	pool common.Address
}

// NewProvider creates an addresses provider pointing at pool.
func NewProvider(pool common.Address) *Provider {
	return &Provider{pool: pool}
}

// GetPool returns the active pool address.
func (p *Provider) GetPool() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// SetPool repoints the provider at a new pool address.
func (p *Provider) SetPool(pool common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool = pool
}
