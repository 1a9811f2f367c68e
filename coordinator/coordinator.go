package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apexmev/flasharb/engine"
	"github.com/apexmev/flasharb/ledger"
	"github.com/apexmev/flasharb/lending"
	"github.com/apexmev/flasharb/metrics"
	"github.com/apexmev/flasharb/notify"
	"github.com/apexmev/flasharb/types"
)

var (
	// ErrUnauthorized rejects privileged calls from anyone but the owner.
	ErrUnauthorized = errors.New("caller is not the owner")

	// ErrAttemptInFlight rejects a new attempt while another is executing.
	ErrAttemptInFlight = errors.New("arbitrage attempt already in flight")

	// ErrUnexpectedCallback rejects a flash loan callback with no live attempt behind it.
	ErrUnexpectedCallback = errors.New("no flash loan attempt in flight")

	// ErrUntrustedCaller rejects callbacks that do not originate from the lending pool.
	ErrUntrustedCaller = errors.New("callback caller is not the lending pool")

	// ErrPathMismatch rejects a trade path that does not start with the borrowed asset.
	ErrPathMismatch = errors.New("borrowed asset does not match path origin")

	// ErrUnprofitableArbitrage aborts the attempt when the cycle yields no profit.
	ErrUnprofitableArbitrage = errors.New("unprofitable arbitrage")

	// ErrNothingToWithdraw rejects a withdrawal of an asset with zero balance.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
)

// Config carries the coordinator's identities.
type Config struct {
	// Address is the coordinator's ledger identity. Borrowed funds, trade
	// proceeds and accumulated profit are all held under it.
	Address common.Address

	// Owner may initiate attempts, withdraw profit and reassign ownership.
	Owner common.Address
}

// executionContext is the transient state of a single attempt, alive from
// initiation until settlement or rollback.
type executionContext struct {
	id      string
	asset   common.Address
	amount  *big.Int
	premium *big.Int
	profit  *big.Int
}

// Coordinator drives one flash loan arbitrage attempt at a time. It requests
// the loan, receives the pool callback, hands the borrowed funds to the
// engine and authorizes repayment. Any failure inside the attempt rolls the
// ledger back to its pre-attempt state, so observers never see a partially
// completed cycle.
type Coordinator struct {
	*Ownable

	address  common.Address
	provider lending.AddressesProvider
	pools    map[common.Address]lending.Pool
	engine   *engine.Engine
	book     *ledger.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.CoordinatorMetrics

	mu       sync.Mutex
	inFlight atomic.Bool
	exec     *executionContext

	now func() time.Time
}

// New returns a Coordinator owned by cfg.Owner and holding funds under
// cfg.Address. The pools map is keyed by pool address; the provider decides
// which of them is current at initiation and callback time.
func New(cfg Config, provider lending.AddressesProvider, pools map[common.Address]lending.Pool, eng *engine.Engine, book *ledger.Ledger, notifier notify.Notifier, logger *zap.Logger, m *metrics.CoordinatorMetrics) (*Coordinator, error) {
	if provider == nil {
		return nil, fmt.Errorf("addresses provider cannot be nil")
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("at least one lending pool is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if book == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	return &Coordinator{
		Ownable:  NewOwnable(cfg.Owner),
		address:  cfg.Address,
		provider: provider,
		pools:    pools,
		engine:   eng,
		book:     book,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Address returns the coordinator's ledger identity.
func (c *Coordinator) Address() common.Address {
	return c.address
}

// Initiate runs a complete arbitrage attempt: it borrows amount of asset
// from the current lending pool and trades it along the path encoded in
// params, which is handed to the pool untouched. Only the owner may
// initiate. The attempt either commits in full, leaving the profit under the
// coordinator's address, or rolls back every balance it touched and returns
// the reason.
func (c *Coordinator) Initiate(ctx context.Context, caller, asset common.Address, amount *big.Int, params []byte) error {
	if err := c.RequireOwner(caller); err != nil {
		return err
	}
	if c.inFlight.Load() {
		return ErrAttemptInFlight
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	req, err := types.NewLoanRequest(asset, amount)
	if err != nil {
		return fmt.Errorf("invalid loan request: %w", err)
	}
	poolAddr := c.provider.GetPool()
	pool, ok := c.pools[poolAddr]
	if !ok {
		return fmt.Errorf("no lending pool registered at %s", poolAddr.Hex())
	}

	c.exec = &executionContext{
		id:     uuid.NewString(),
		asset:  asset,
		amount: new(big.Int).Set(amount),
	}
	defer func() { c.exec = nil }()

	c.metrics.Attempts.Inc()
	c.metrics.ActiveLoans.Inc()
	defer c.metrics.ActiveLoans.Dec()

	// The loan request is announced before control passes to the pool, so
	// the record exists even if the attempt aborts.
	c.logger.Info("Initiating flash loan arbitrage",
		zap.String("invocation", c.exec.id),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("pool", poolAddr.Hex()))
	c.notifier.LoanInitiated(ctx, notify.LoanInitiated{
		InvocationID: c.exec.id,
		Asset:        asset.Hex(),
		Amount:       amount.String(),
		Timestamp:    c.now(),
	})

	snap := c.book.Snapshot()
	if err := pool.FlashLoan(ctx, c, req.Assets(), req.Amounts(), req.Modes(), c.address, params, 0); err != nil {
		c.book.RevertToSnapshot(snap)
		reason := failureReason(err)
		c.metrics.RecordOutcome(false, reason)
		c.logger.Warn("Arbitrage attempt aborted",
			zap.String("invocation", c.exec.id),
			zap.String("reason", reason),
			zap.Error(err))
		return err
	}
	c.book.DiscardSnapshots()

	profit := c.exec.profit
	if profit == nil {
		profit = new(big.Int)
	}
	retained := new(big.Int).Set(profit)
	if c.exec.premium != nil {
		retained.Sub(retained, c.exec.premium)
	}
	c.metrics.RecordOutcome(true, "")
	retainedValue, _ := new(big.Float).SetInt(retained).Float64()
	c.metrics.ProfitTotal.Add(retainedValue)
	c.logger.Info("Arbitrage attempt completed",
		zap.String("invocation", c.exec.id),
		zap.String("asset", asset.Hex()),
		zap.String("profit", profit.String()),
		zap.String("retained", retained.String()))
	c.notifier.ArbitrageCompleted(ctx, notify.ArbitrageCompleted{
		InvocationID: c.exec.id,
		Asset:        asset.Hex(),
		Profit:       profit.String(),
		Timestamp:    c.now(),
	})
	return nil
}

// ExecuteOperation is the flash loan callback. The pool invokes it after
// disbursing the borrowed funds and before collecting repayment,
// synchronously on the goroutine that holds the attempt lock inside
// Initiate. It verifies the caller against the freshly resolved pool
// address, decodes and checks the trade path, runs the two-leg cycle and,
// when the cycle is profitable, authorizes the pool to pull principal plus
// premium. Returning an error or false makes the pool revert the whole loan.
func (c *Coordinator) ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) (bool, error) {
	if caller != c.provider.GetPool() {
		return false, fmt.Errorf("%w: called by %s", ErrUntrustedCaller, caller.Hex())
	}
	if initiator != c.address {
		return false, fmt.Errorf("%w: loan initiated by %s", ErrUntrustedCaller, initiator.Hex())
	}
	if !c.inFlight.Load() || c.exec == nil {
		return false, ErrUnexpectedCallback
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return false, fmt.Errorf("expected a single-asset loan, got %d assets", len(assets))
	}
	if assets[0] != c.exec.asset || amounts[0].Cmp(c.exec.amount) != 0 {
		return false, fmt.Errorf("%w: callback loan does not match the initiated request", ErrUntrustedCaller)
	}

	path, err := types.DecodeParams(params)
	if err != nil {
		return false, fmt.Errorf("failed to decode trade path: %w", err)
	}
	if assets[0] != path.Origin() {
		return false, fmt.Errorf("%w: borrowed %s, path starts at %s",
			ErrPathMismatch, assets[0].Hex(), path.Origin().Hex())
	}

	c.exec.premium = new(big.Int).Set(premiums[0])

	ok, profit, err := c.engine.Run(ctx, c.address, assets[0], amounts[0], path)
	if err != nil {
		return false, fmt.Errorf("arbitrage cycle failed: %w", err)
	}
	if !ok {
		return false, ErrUnprofitableArbitrage
	}
	c.exec.profit = profit

	owed := new(big.Int).Add(amounts[0], premiums[0])
	if err := c.book.Approve(assets[0], c.address, caller, owed); err != nil {
		return false, fmt.Errorf("failed to authorize repayment: %w", err)
	}
	c.logger.Debug("Repayment authorized",
		zap.String("invocation", c.exec.id),
		zap.String("owed", owed.String()),
		zap.String("profit", profit.String()))
	return true, nil
}

// Withdraw transfers the coordinator's entire balance of asset to the
// current owner and returns the amount moved. Only the owner may withdraw.
func (c *Coordinator) Withdraw(caller, asset common.Address) (*big.Int, error) {
	if err := c.RequireOwner(caller); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	balance := c.book.BalanceOf(asset, c.address)
	if balance.Sign() == 0 {
		return nil, fmt.Errorf("%w: asset %s", ErrNothingToWithdraw, asset.Hex())
	}
	owner := c.Owner()
	if err := c.book.Transfer(asset, c.address, owner, balance); err != nil {
		return nil, fmt.Errorf("failed to withdraw: %w", err)
	}
	c.book.DiscardSnapshots()
	c.metrics.Withdrawals.Inc()
	c.logger.Info("Withdrawal completed",
		zap.String("asset", asset.Hex()),
		zap.String("amount", balance.String()),
		zap.String("owner", owner.Hex()))
	return balance, nil
}

// TransferOwnership reassigns the owner role to newOwner. Only the current
// owner may call it.
func (c *Coordinator) TransferOwnership(caller, newOwner common.Address) error {
	if err := c.Ownable.Transfer(caller, newOwner); err != nil {
		return err
	}
	c.logger.Info("Ownership transferred",
		zap.String("from", caller.Hex()),
		zap.String("to", newOwner.Hex()))
	return nil
}

// failureReason maps an attempt error onto a low cardinality metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAttemptInFlight):
		return "busy"
	case errors.Is(err, ErrUntrustedCaller):
		return "untrusted_caller"
	case errors.Is(err, types.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrPathMismatch):
		return "path_mismatch"
	case errors.Is(err, ErrUnprofitableArbitrage):
		return "unprofitable"
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		return "liquidity"
	case errors.Is(err, lending.ErrLoanNotRepaid):
		return "repayment"
	default:
		return "error"
	}
}
