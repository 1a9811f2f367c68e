package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/apexmev/flasharb/ledger"
)

// DefaultPremiumBps matches the Aave V2 flash loan premium of 0.09%.
const DefaultPremiumBps = 9

var (
	// ErrInsufficientLiquidity is returned when the pool cannot cover the requested amount.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	// ErrCallbackRejected is returned when the receiver declined or failed the operation.
	ErrCallbackRejected = errors.New("flash loan callback rejected")
	// ErrLoanNotRepaid is returned when principal plus premium could not be pulled back.
	ErrLoanNotRepaid = errors.New("flash loan not repaid")
)

// SimulatedPool is an Aave-V2-style flash lender whose liquidity is its own
// ledger balance. Premiums it collects stay in the pool and deepen it.
type SimulatedPool struct {
	address    common.Address
	premiumBps *big.Int
	book       *ledger.Ledger
	logger     *zap.Logger
}

// NewSimulatedPool creates a pool lending off book from the given address.
func NewSimulatedPool(address common.Address, premiumBps int64, book *ledger.Ledger, logger *zap.Logger) (*SimulatedPool, error) {
	if book == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if premiumBps < 0 {
		return nil, fmt.Errorf("premium bps cannot be negative, got %d", premiumBps)
	}

	return &SimulatedPool{
		address:    address,
		premiumBps: big.NewInt(premiumBps),
		book:       book,
		logger:     logger,
	}, nil
}

// Address returns the pool's ledger identity.
func (p *SimulatedPool) Address() common.Address {
	return p.address
}

// Fund seeds the pool's lendable liquidity.
func (p *SimulatedPool) Fund(asset common.Address, amount *big.Int) error {
	return p.book.Mint(asset, p.address, amount)
}

// Liquidity returns how much of asset the pool can currently lend.
func (p *SimulatedPool) Liquidity(asset common.Address) *big.Int {
	return p.book.BalanceOf(asset, p.address)
}

// Premium returns the flash premium owed on amount.
func (p *SimulatedPool) Premium(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, p.premiumBps)
	return fee.Div(fee, big.NewInt(10000))
}

// FlashLoan lends the requested amounts to receiver for the duration of its
// ExecuteOperation callback. The receiver must leave principal plus premium
// approved for the pool before returning; otherwise every balance movement
// of the loan is reverted.
func (p *SimulatedPool) FlashLoan(ctx context.Context, receiver Receiver, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, params []byte, referralCode uint16) error {
	if receiver == nil {
		return fmt.Errorf("receiver cannot be nil")
	}
	if len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(modes) {
		return fmt.Errorf("mismatched loan arrays: %d assets, %d amounts, %d modes", len(assets), len(amounts), len(modes))
	}

	premiums := make([]*big.Int, len(assets))
	for i, asset := range assets {
		if modes[i] != 0 {
			return fmt.Errorf("debt mode %d not supported", modes[i])
		}
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return fmt.Errorf("loan amount must be positive")
		}
		if liquidity := p.Liquidity(asset); liquidity.Cmp(amounts[i]) < 0 {
			return fmt.Errorf("%w: %s has %s, requested %s", ErrInsufficientLiquidity, asset.Hex(), liquidity, amounts[i])
		}
		premiums[i] = p.Premium(amounts[i])
	}

	snap := p.book.Snapshot()

	for i, asset := range assets {
		if err := p.book.Transfer(asset, p.address, receiver.Address(), amounts[i]); err != nil {
			p.book.RevertToSnapshot(snap)
			return fmt.Errorf("failed to disburse loan: %w", err)
		}
		p.logger.Debug("Flash loan disbursed",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amounts[i].String()),
			zap.String("premium", premiums[i].String()),
			zap.String("receiver", receiver.Address().Hex()))
	}

	ok, err := receiver.ExecuteOperation(ctx, p.address, assets, amounts, premiums, onBehalfOf, params)
	if err != nil {
		p.book.RevertToSnapshot(snap)
		return fmt.Errorf("%w: %w", ErrCallbackRejected, err)
	}
	if !ok {
		p.book.RevertToSnapshot(snap)
		return ErrCallbackRejected
	}

	for i, asset := range assets {
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if err := p.book.TransferFrom(asset, p.address, receiver.Address(), p.address, owed); err != nil {
			p.book.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %v", ErrLoanNotRepaid, err)
		}
		p.logger.Info("Flash loan repaid",
			zap.String("asset", asset.Hex()),
			zap.String("principal", amounts[i].String()),
			zap.String("premium", premiums[i].String()))
	}

	return nil
}
