package coordinator

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ownable guards privileged operations behind a single owner identity.
// Ownership is reassignable, but only by the current owner.
type Ownable struct {
	mu    sync.RWMutex
	owner common.Address
}

// NewOwnable returns an Ownable held by the given owner.
func NewOwnable(owner common.Address) *Ownable {
	return &Ownable{owner: owner}
}

// Owner returns the current owner.
func (o *Ownable) Owner() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner
}

// IsOwner reports whether caller is the current owner.
func (o *Ownable) IsOwner(caller common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return caller == o.owner
}

// RequireOwner returns ErrUnauthorized unless caller is the current owner.
func (o *Ownable) RequireOwner(caller common.Address) error {
	if !o.IsOwner(caller) {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Transfer reassigns ownership to newOwner. Only the current owner may
// transfer, and the change takes effect for all subsequent checks.
func (o *Ownable) Transfer(caller, newOwner common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	o.owner = newOwner
	return nil
}
