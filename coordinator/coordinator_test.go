package coordinator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apexmev/flasharb/engine"
	"github.com/apexmev/flasharb/ledger"
	"github.com/apexmev/flasharb/lending"
	"github.com/apexmev/flasharb/metrics"
	"github.com/apexmev/flasharb/notify"
	"github.com/apexmev/flasharb/types"
	"github.com/apexmev/flasharb/venue"
	"github.com/apexmev/flasharb/venue/amm"
)

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	executorAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	routerAddrA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	routerAddrB  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	strangerAddr = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

type harness struct {
	book     *ledger.Ledger
	pool     *lending.SimulatedPool
	provider *lending.Provider
	alpha    *amm.Router
	beta     *amm.Router
	recorder *notify.Recorder
	coord    *Coordinator
}

func newHarness(t *testing.T, premiumBps int64) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	book := ledger.New()

	alpha, err := amm.NewRouter("alpha", routerAddrA, book)
	require.NoError(t, err)
	beta, err := amm.NewRouter("beta", routerAddrB, book)
	require.NoError(t, err)

	routers := map[common.Address]venue.Router{routerAddrA: alpha, routerAddrB: beta}
	eng, err := engine.NewEngine(
		venue.Venue{Name: "alpha", Router: routerAddrA},
		venue.Venue{Name: "beta", Router: routerAddrB},
		routers, book, logger, metrics.NewEngineMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	pool, err := lending.NewSimulatedPool(poolAddr, premiumBps, book, logger)
	require.NoError(t, err)
	provider := lending.NewProvider(poolAddr)
	recorder := &notify.Recorder{}

	coord, err := New(
		Config{Address: executorAddr, Owner: ownerAddr},
		provider,
		map[common.Address]lending.Pool{poolAddr: pool},
		eng, book, recorder, logger,
		metrics.NewCoordinatorMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	return &harness{
		book:     book,
		pool:     pool,
		provider: provider,
		alpha:    alpha,
		beta:     beta,
		recorder: recorder,
		coord:    coord,
	}
}

// seedSkewedMarkets prices dai differently on the two venues so borrowing
// weth, selling it on alpha and buying it back on beta is profitable.
func (h *harness) seedSkewedMarkets(t *testing.T) {
	t.Helper()
	require.NoError(t, h.alpha.AddLiquidity(weth, dai, big.NewInt(100_000_000), big.NewInt(200_000_000)))
	require.NoError(t, h.beta.AddLiquidity(weth, dai, big.NewInt(100_000_000), big.NewInt(100_000_000)))
	require.NoError(t, h.pool.Fund(weth, big.NewInt(50_000_000)))
}

// seedFlatMarkets prices the pair identically on both venues, so any round
// trip loses the swap fees.
func (h *harness) seedFlatMarkets(t *testing.T) {
	t.Helper()
	require.NoError(t, h.alpha.AddLiquidity(weth, dai, big.NewInt(100_000_000), big.NewInt(100_000_000)))
	require.NoError(t, h.beta.AddLiquidity(weth, dai, big.NewInt(100_000_000), big.NewInt(100_000_000)))
	require.NoError(t, h.pool.Fund(weth, big.NewInt(50_000_000)))
}

// marketState captures every balance an attempt may touch, for rollback checks.
type marketState struct {
	poolLiquidity string
	executorWeth  string
	executorDai   string
	alphaWeth     string
	alphaDai      string
	betaWeth      string
	betaDai       string
}

func (h *harness) state() marketState {
	alphaWeth, alphaDai := h.alpha.Reserves(weth, dai)
	betaWeth, betaDai := h.beta.Reserves(weth, dai)
	return marketState{
		poolLiquidity: h.pool.Liquidity(weth).String(),
		executorWeth:  h.book.BalanceOf(weth, executorAddr).String(),
		executorDai:   h.book.BalanceOf(dai, executorAddr).String(),
		alphaWeth:     alphaWeth.String(),
		alphaDai:      alphaDai.String(),
		betaWeth:      betaWeth.String(),
		betaDai:       betaDai.String(),
	}
}

func encodedPath(t *testing.T, tokens ...common.Address) []byte {
	t.Helper()
	data, err := types.MustPathFor(tokens...).EncodeParams()
	require.NoError(t, err)
	return data
}

func TestInitiateRejectsNonOwner(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)
	before := h.state()

	err := h.coord.Initiate(context.Background(), strangerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Empty(t, h.recorder.Loans(), "rejected attempt must leave no loan record")
	assert.Equal(t, before, h.state())
}

func TestInitiateRejectsInvalidAmount(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		err := h.coord.Initiate(context.Background(), ownerAddr, weth, amount, encodedPath(t, weth, dai))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid loan request")
	}
	assert.Empty(t, h.recorder.Loans())
}

func TestInitiateRejectsMalformedPath(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)
	before := h.state()

	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), []byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, types.ErrInvalidPath)
	require.ErrorIs(t, err, lending.ErrCallbackRejected)

	// The loan was announced before the callback discovered the bad payload.
	assert.Len(t, h.recorder.Loans(), 1)
	assert.Empty(t, h.recorder.Completed())
	assert.Equal(t, before, h.state())
}

func TestInitiateRejectsPathMismatch(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)
	before := h.state()

	// The path starts at dai but the loan is denominated in weth.
	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, dai, weth))
	require.ErrorIs(t, err, ErrPathMismatch)

	assert.Equal(t, before, h.state(), "no swap may run against a mismatched path")
}

func TestInitiateUnprofitableRollsBack(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedFlatMarkets(t)
	before := h.state()

	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, ErrUnprofitableArbitrage)

	assert.Equal(t, before, h.state(), "an unprofitable cycle must leave no trace")
	assert.Len(t, h.recorder.Loans(), 1)
	assert.Empty(t, h.recorder.Completed())
}

func TestInitiateVenueFailureRollsBack(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	// Alpha is liquid, beta has no pair at all, so quoting beta fails.
	require.NoError(t, h.alpha.AddLiquidity(weth, dai, big.NewInt(100_000_000), big.NewInt(200_000_000)))
	require.NoError(t, h.pool.Fund(weth, big.NewInt(50_000_000)))
	before := h.state()

	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.Error(t, err)
	require.ErrorIs(t, err, lending.ErrCallbackRejected)
	assert.Contains(t, err.Error(), "arbitrage cycle failed")

	assert.Equal(t, before, h.state())
}

func TestInitiateProfitableCycle(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)

	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.NoError(t, err)

	// Borrow 1_000_000 weth, sell on alpha for 1_974_316 dai, buy back
	// 1_930_395 weth on beta, repay 1_000_900.
	assert.Equal(t, marketState{
		poolLiquidity: "50000900",
		executorWeth:  "929495",
		executorDai:   "0",
		alphaWeth:     "101000000",
		alphaDai:      "198025684",
		betaWeth:      "98069605",
		betaDai:       "101974316",
	}, h.state())

	loans := h.recorder.Loans()
	completed := h.recorder.Completed()
	require.Len(t, loans, 1)
	require.Len(t, completed, 1)
	assert.NotEmpty(t, loans[0].InvocationID)
	assert.Equal(t, loans[0].InvocationID, completed[0].InvocationID)
	assert.Equal(t, weth.Hex(), loans[0].Asset)
	assert.Equal(t, "1000000", loans[0].Amount)
	assert.Equal(t, "930395", completed[0].Profit)

	// The reported profit is measured against the disbursed principal, so
	// the retained balance is profit minus the premium.
	profit, ok := new(big.Int).SetString(completed[0].Profit, 10)
	require.True(t, ok)
	premium := h.pool.Premium(big.NewInt(1_000_000))
	retained := h.book.BalanceOf(weth, executorAddr)
	assert.Equal(t, new(big.Int).Sub(profit, premium).String(), retained.String())
}

func TestInitiateRepaymentShortfallRollsBack(t *testing.T) {
	// A 100% premium makes even the profitable cycle unable to repay.
	h := newHarness(t, 10_000)
	h.seedSkewedMarkets(t)
	before := h.state()

	err := h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, lending.ErrLoanNotRepaid)

	assert.Equal(t, before, h.state(), "an unrepayable loan must roll back completely")
	assert.Empty(t, h.recorder.Completed())
}

// newCoordWithPool builds a coordinator over h's ledger and venues but served
// by the given pool implementation.
func newCoordWithPool(t *testing.T, h *harness, pool lending.Pool) *Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eng, err := engine.NewEngine(
		venue.Venue{Name: "alpha", Router: routerAddrA},
		venue.Venue{Name: "beta", Router: routerAddrB},
		map[common.Address]venue.Router{routerAddrA: h.alpha, routerAddrB: h.beta},
		h.book, logger, metrics.NewEngineMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	coord, err := New(
		Config{Address: executorAddr, Owner: ownerAddr},
		h.provider,
		map[common.Address]lending.Pool{poolAddr: pool},
		eng, h.book, &notify.Recorder{}, logger,
		metrics.NewCoordinatorMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return coord
}

// reentrantPool re-invokes the coordinator from inside the loan it serves.
type reentrantPool struct {
	coord    *Coordinator
	innerErr error
}

func (p *reentrantPool) FlashLoan(ctx context.Context, receiver lending.Receiver, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, params []byte, referralCode uint16) error {
	p.innerErr = p.coord.Initiate(ctx, ownerAddr, assets[0], amounts[0], params)
	return p.innerErr
}

func TestInitiateRejectsReentrancy(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)

	reentrant := &reentrantPool{}
	coord := newCoordWithPool(t, h, reentrant)
	reentrant.coord = coord

	err := coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, ErrAttemptInFlight)
	require.ErrorIs(t, reentrant.innerErr, ErrAttemptInFlight)
}

// tamperingPool calls the receiver back with an inflated loan amount.
type tamperingPool struct{}

func (tamperingPool) FlashLoan(ctx context.Context, receiver lending.Receiver, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, params []byte, referralCode uint16) error {
	doctored := []*big.Int{new(big.Int).Lsh(amounts[0], 1)}
	premiums := []*big.Int{big.NewInt(0)}
	_, err := receiver.ExecuteOperation(ctx, poolAddr, assets, doctored, premiums, onBehalfOf, params)
	return err
}

func TestExecuteOperationRejectsTamperedCallback(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)
	coord := newCoordWithPool(t, h, tamperingPool{})

	err := coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1_000_000), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, ErrUntrustedCaller)
	assert.Contains(t, err.Error(), "does not match the initiated request")
}

func TestExecuteOperationGuards(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	h.seedSkewedMarkets(t)
	ctx := context.Background()

	assets := []common.Address{weth}
	amounts := []*big.Int{big.NewInt(1_000_000)}
	premiums := []*big.Int{big.NewInt(900)}
	params := encodedPath(t, weth, dai)

	t.Run("rejects callers other than the pool", func(t *testing.T) {
		ok, err := h.coord.ExecuteOperation(ctx, strangerAddr, assets, amounts, premiums, executorAddr, params)
		require.ErrorIs(t, err, ErrUntrustedCaller)
		assert.False(t, ok)
	})

	t.Run("rejects foreign initiators", func(t *testing.T) {
		ok, err := h.coord.ExecuteOperation(ctx, poolAddr, assets, amounts, premiums, strangerAddr, params)
		require.ErrorIs(t, err, ErrUntrustedCaller)
		assert.False(t, ok)
	})

	t.Run("rejects a callback with no attempt in flight", func(t *testing.T) {
		ok, err := h.coord.ExecuteOperation(ctx, poolAddr, assets, amounts, premiums, executorAddr, params)
		require.ErrorIs(t, err, ErrUnexpectedCallback)
		assert.False(t, ok)
	})

	t.Run("pool moving after initiation invalidates the old caller", func(t *testing.T) {
		h.provider.SetPool(strangerAddr)
		defer h.provider.SetPool(poolAddr)
		ok, err := h.coord.ExecuteOperation(ctx, poolAddr, assets, amounts, premiums, executorAddr, params)
		require.ErrorIs(t, err, ErrUntrustedCaller)
		assert.False(t, ok)
	})
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)

	_, err := h.coord.Withdraw(ownerAddr, weth)
	require.ErrorIs(t, err, ErrNothingToWithdraw)

	require.NoError(t, h.book.Mint(weth, executorAddr, big.NewInt(5_000)))

	_, err = h.coord.Withdraw(strangerAddr, weth)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "5000", h.book.BalanceOf(weth, executorAddr).String())

	amount, err := h.coord.Withdraw(ownerAddr, weth)
	require.NoError(t, err)
	assert.Equal(t, "5000", amount.String())
	assert.Equal(t, "5000", h.book.BalanceOf(weth, ownerAddr).String())
	assert.Equal(t, "0", h.book.BalanceOf(weth, executorAddr).String())

	_, err = h.coord.Withdraw(ownerAddr, weth)
	require.ErrorIs(t, err, ErrNothingToWithdraw)
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	err := h.coord.TransferOwnership(strangerAddr, newOwner)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ownerAddr, h.coord.Owner())

	require.NoError(t, h.coord.TransferOwnership(ownerAddr, newOwner))
	assert.Equal(t, newOwner, h.coord.Owner())

	// The old owner loses every privilege, the new owner gains them.
	err = h.coord.Initiate(context.Background(), ownerAddr, weth, big.NewInt(1), encodedPath(t, weth, dai))
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, h.book.Mint(weth, executorAddr, big.NewInt(42)))
	amount, err := h.coord.Withdraw(newOwner, weth)
	require.NoError(t, err)
	assert.Equal(t, "42", amount.String())
	assert.Equal(t, "42", h.book.BalanceOf(weth, newOwner).String())
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t, lending.DefaultPremiumBps)
	logger := zaptest.NewLogger(t)
	m := metrics.NewCoordinatorMetrics(prometheus.NewRegistry())
	pools := map[common.Address]lending.Pool{poolAddr: h.pool}
	cfg := Config{Address: executorAddr, Owner: ownerAddr}

	_, err := New(cfg, nil, pools, h.coord.engine, h.book, h.recorder, logger, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, nil, h.coord.engine, h.book, h.recorder, logger, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, pools, nil, h.book, h.recorder, logger, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, pools, h.coord.engine, nil, h.recorder, logger, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, pools, h.coord.engine, h.book, nil, logger, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, pools, h.coord.engine, h.book, h.recorder, nil, m)
	assert.Error(t, err)
	_, err = New(cfg, h.provider, pools, h.coord.engine, h.book, h.recorder, logger, nil)
	assert.Error(t, err)
}
