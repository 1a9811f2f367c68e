package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// journalEntry is a single reversible mutation of the book. A nil prev marks
// a cell that did not exist before the write.
type journalEntry interface {
	revert(*Ledger)
}

type balanceChange struct {
	token  common.Address
	holder common.Address
	prev   *big.Int
}

func (c balanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.balances[c.token], c.holder)
		return
	}
	l.balances[c.token][c.holder] = c.prev
}

type allowanceChange struct {
	token   common.Address
	owner   common.Address
	spender common.Address
	prev    *big.Int
}

func (c allowanceChange) revert(l *Ledger) {
	key := approvalKey{owner: c.owner, spender: c.spender}
	if c.prev == nil {
		delete(l.allowances[c.token], key)
		return
	}
	l.allowances[c.token][key] = c.prev
}
