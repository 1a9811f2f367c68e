// Package ledger keeps the in-memory token book every other component trades
// against. All writes go through a journal, so a failed execution can be
// rolled back to the exact state it started from.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when a delegated transfer exceeds the spender's allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

type approvalKey struct {
	owner   common.Address
	spender common.Address
}

type revision struct {
	id           int
	journalIndex int
}

// Ledger is the token book. Every holder's balance of every token lives here,
// including pool liquidity and pair reserves, so one snapshot covers the
// whole system state. Stored amounts are never mutated in place; each write
// installs a fresh value, which lets the journal keep old pointers.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[approvalKey]*big.Int

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[approvalKey]*big.Int),
	}
}

// BalanceOf returns holder's balance of token. Missing entries read as zero.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(token, holder))
}

// Mint credits amount of token to holder, creating supply from nothing. Used
// to seed pool liquidity, pair reserves and test balances.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(token, from, to, amount)
}

// Approve sets spender's allowance over owner's token balance. It overwrites
// any previous allowance rather than adjusting it.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(token, owner, spender, new(big.Int).Set(amount))
	return nil
}

// Allowance returns what spender may currently move of owner's token balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.allowance(token, owner, spender))
}

// TransferFrom moves amount of from's token to to, on spender's authority,
// consuming allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(token, from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s only %s of token %s, transfer needs %s",
			ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowed, token.Hex(), amount)
	}
	if err := l.transfer(token, from, to, amount); err != nil {
		return err
	}
	l.setAllowance(token, from, spender, new(big.Int).Sub(allowed, amount))
	return nil
}

// Snapshot marks the current state and returns an identifier that can later
// be passed to RevertToSnapshot.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextRevisionID
	l.nextRevisionID++
	l.validRevisions = append(l.validRevisions, revision{id: id, journalIndex: len(l.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the snapshot was taken. The
// snapshot and any taken after it are invalidated. Reverting to an unknown
// identifier is a programming error and panics.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := sort.Search(len(l.validRevisions), func(i int) bool {
		return l.validRevisions[i].id >= id
	})
	if idx == len(l.validRevisions) || l.validRevisions[idx].id != id {
		panic(fmt.Errorf("revision id %v cannot be reverted", id))
	}
	mark := l.validRevisions[idx].journalIndex

	for i := len(l.journal) - 1; i >= mark; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:mark]
	l.validRevisions = l.validRevisions[:idx]
}

// DiscardSnapshots commits everything written so far: the journal is dropped
// and all outstanding snapshot identifiers become invalid.
func (l *Ledger) DiscardSnapshots() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
	l.validRevisions = l.validRevisions[:0]
}

func (l *Ledger) balance(token, holder common.Address) *big.Int {
	if b, ok := l.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(token, holder common.Address, amount *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	l.journal = append(l.journal, balanceChange{token: token, holder: holder, prev: holders[holder]})
	holders[holder] = amount
}

func (l *Ledger) transfer(token, from, to common.Address, amount *big.Int) error {
	bal := l.balance(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of token %s, transfer needs %s",
			ErrInsufficientBalance, from.Hex(), bal, token.Hex(), amount)
	}
	l.setBalance(token, from, new(big.Int).Sub(bal, amount))
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

func (l *Ledger) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[token][approvalKey{owner: owner, spender: spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (l *Ledger) setAllowance(token, owner, spender common.Address, amount *big.Int) {
	key := approvalKey{owner: owner, spender: spender}
	approvals, ok := l.allowances[token]
	if !ok {
		approvals = make(map[approvalKey]*big.Int)
		l.allowances[token] = approvals
	}
	l.journal = append(l.journal, allowanceChange{token: token, owner: owner, spender: spender, prev: approvals[key]})
	approvals[key] = amount
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	return nil
}
