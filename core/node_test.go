package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"defiapps/native/amm"
	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
	"defiapps/native/lending"
	"defiapps/native/oracle"
	"defiapps/native/router"
	"defiapps/storage"
)

var (
	adminAddr = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	tokenBase = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenFoo  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenWeth = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	provider  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	lender    = common.HexToAddress("0x0000000000000000000000000000000000000111")
	borrower  = common.HexToAddress("0x0000000000000000000000000000000000000222")
)

// genesis is aligned to the 12 second oracle slot.
const genesis = 1_699_999_992

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestNode(t *testing.T) (*Node, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(genesis, 0)}
	node, err := NewNode(storage.NewMemDB(), Config{
		Admin:             adminAddr,
		BaseToken:         tokenBase,
		FeeBps:            amm.DefaultFeeBps,
		OracleWindow:      60,
		OracleGranularity: 5,
		Clock:             clock.Now,
	})
	require.NoError(t, err)
	return node, clock
}

func mustPoolConfig(t *testing.T) lending.PoolConfig {
	t.Helper()
	cfg, err := lending.ParsePoolConfig("0.1", "0.8", "0.04", "0.75", "0.75", "1.05")
	require.NoError(t, err)
	return cfg
}

func fund(t *testing.T, node *Node, to common.Address, token common.Address, amount int64) {
	t.Helper()
	require.NoError(t, node.MintTokens(context.Background(), adminAddr, token, to, big.NewInt(amount)))
}

// seedMarkets prices FOO at 0.1 and WETH at 1.0 base, and opens both lending
// pools.
func seedMarkets(t *testing.T, node *Node) {
	t.Helper()
	ctx := context.Background()
	fund(t, node, provider, tokenBase, 100_000)
	fund(t, node, provider, tokenFoo, 100_000)
	fund(t, node, provider, tokenWeth, 100_000)
	for _, pair := range []struct {
		token   common.Address
		reserve int64
		base    int64
	}{{tokenFoo, 10_000, 1_000}, {tokenWeth, 1_000, 1_000}} {
		_, err := node.CreatePair(ctx, pair.token, tokenBase)
		require.NoError(t, err)
		_, err = node.MintLiquidity(ctx, provider, pair.token, tokenBase, big.NewInt(pair.reserve), big.NewInt(pair.base))
		require.NoError(t, err)
	}
	for _, asset := range []common.Address{tokenFoo, tokenWeth} {
		require.NoError(t, node.BootstrapLendingPool(ctx, asset, mustPoolConfig(t)))
	}
	for _, user := range []common.Address{lender, borrower} {
		for _, token := range []common.Address{tokenFoo, tokenWeth, tokenBase} {
			require.NoError(t, node.Approve(ctx, token, user, node.LendingAddress(), bank.MaxAllowance))
		}
	}
}

func requireSolventPools(t *testing.T, node *Node) {
	t.Helper()
	pools, err := node.LendingPools(context.Background())
	require.NoError(t, err)
	for _, pool := range pools {
		require.True(t, pool.TotalLiquidity.Cmp(pool.TotalBorrows) >= 0,
			"pool %s liquidity %s below borrows %s", pool.Asset.Hex(), pool.TotalLiquidity, pool.TotalBorrows)
	}
}

func TestBorrowAgainstCollateral(t *testing.T) {
	node, _ := newTestNode(t)
	seedMarkets(t, node)
	ctx := context.Background()
	fund(t, node, lender, tokenFoo, 100)
	fund(t, node, borrower, tokenWeth, 10)

	_, err := node.Deposit(ctx, lender, tokenFoo, big.NewInt(100))
	require.NoError(t, err)
	_, err = node.Deposit(ctx, borrower, tokenWeth, big.NewInt(10))
	require.NoError(t, err)

	shares, err := node.Borrow(ctx, borrower, tokenFoo, big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, int64(50), shares.Int64())
	pool, err := node.LendingPool(ctx, tokenFoo)
	require.NoError(t, err)
	require.Equal(t, int64(50), pool.TotalBorrows.Int64())
	require.Equal(t, int64(50), pool.TotalBorrowShares.Int64())

	_, err = node.Borrow(ctx, borrower, tokenFoo, big.NewInt(40))
	require.ErrorIs(t, err, nativecommon.ErrAccountUnhealthy)
	balance, err := node.BalanceOf(ctx, tokenFoo, borrower)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance.Int64())
	requireSolventPools(t, node)

	healthy, err := node.IsAccountHealthy(ctx, borrower)
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestRepayByShareCoversInterest(t *testing.T) {
	node, clock := newTestNode(t)
	seedMarkets(t, node)
	ctx := context.Background()
	fund(t, node, lender, tokenFoo, 100)
	fund(t, node, borrower, tokenWeth, 10)
	fund(t, node, borrower, tokenFoo, 100)

	_, err := node.Deposit(ctx, lender, tokenFoo, big.NewInt(100))
	require.NoError(t, err)
	_, err = node.Deposit(ctx, borrower, tokenWeth, big.NewInt(10))
	require.NoError(t, err)
	shares, err := node.Borrow(ctx, borrower, tokenFoo, big.NewInt(50))
	require.NoError(t, err)

	clock.Advance(365 * 24 * time.Hour)
	requireSolventPools(t, node)

	repaid, err := node.RepayByShare(ctx, borrower, tokenFoo, shares)
	require.NoError(t, err)
	require.Equal(t, 1, repaid.Cmp(big.NewInt(50)), "repaid %s should exceed principal", repaid)

	position, err := node.UserPoolData(ctx, borrower, tokenFoo)
	require.NoError(t, err)
	require.Zero(t, position.BorrowShares.Sign())
	requireSolventPools(t, node)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	node, _ := newTestNode(t)
	seedMarkets(t, node)
	ctx := context.Background()
	fund(t, node, lender, tokenWeth, 777)

	shares, err := node.Deposit(ctx, lender, tokenWeth, big.NewInt(777))
	require.NoError(t, err)
	amount, err := node.WithdrawByShare(ctx, lender, tokenWeth, shares)
	require.NoError(t, err)
	require.Equal(t, int64(777), amount.Int64())
	balance, err := node.BalanceOf(ctx, tokenWeth, lender)
	require.NoError(t, err)
	require.Equal(t, int64(777), balance.Int64())
}

// fillWindow samples both markets once per slot across a full window.
func fillWindow(t *testing.T, node *Node, clock *testClock) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i <= 5; i++ {
		if i > 0 {
			clock.Advance(12 * time.Second)
		}
		for _, token := range []common.Address{tokenFoo, tokenWeth} {
			written, err := node.UpdateOracle(ctx, token, tokenBase)
			require.NoError(t, err)
			require.True(t, written)
		}
	}
}

func TestWindowedOracleResistsSpotManipulation(t *testing.T) {
	for _, tc := range []struct {
		kind    oracle.Kind
		wantErr error
	}{
		{oracle.KindSpot, nil},
		{oracle.KindWindowed, nativecommon.ErrAccountUnhealthy},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			node, clock := newTestNode(t)
			seedMarkets(t, node)
			ctx := context.Background()
			fillWindow(t, node, clock)
			require.NoError(t, node.SetPriceOracle(ctx, adminAddr, tc.kind))

			fund(t, node, lender, tokenFoo, 5_000)
			fund(t, node, borrower, tokenWeth, 10)
			fund(t, node, borrower, tokenBase, 9_000)
			_, err := node.Deposit(ctx, lender, tokenFoo, big.NewInt(5_000))
			require.NoError(t, err)
			_, err = node.Deposit(ctx, borrower, tokenWeth, big.NewInt(10))
			require.NoError(t, err)

			// Buying most of the WETH reserve inflates its spot price about
			// a hundredfold.
			_, err = node.Swap(ctx, borrower, tokenBase, tokenWeth, big.NewInt(9_000), big.NewInt(1))
			require.NoError(t, err)
			report, err := node.Price(ctx, tokenWeth)
			require.NoError(t, err)
			require.NoError(t, report.WindowedErr)
			require.Equal(t, 0, report.Windowed.Cmp(oracle.WAD))
			require.Equal(t, 1, report.Spot.Cmp(new(big.Int).Mul(oracle.WAD, big.NewInt(90))))

			_, err = node.Borrow(ctx, borrower, tokenFoo, big.NewInt(1_000))
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
			requireSolventPools(t, node)
		})
	}
}

func TestMultiHopSwapThroughNode(t *testing.T) {
	node, clock := newTestNode(t)
	seedMarkets(t, node)
	ctx := context.Background()
	trader := common.HexToAddress("0x0000000000000000000000000000000000000333")
	fund(t, node, trader, tokenFoo, 1_000)
	require.NoError(t, node.Approve(ctx, tokenFoo, trader, node.RouterAddress(), bank.MaxAllowance))

	paths, err := node.FindAllPaths(ctx, tokenFoo, tokenWeth)
	require.NoError(t, err)
	require.Equal(t, [][]common.Address{{tokenFoo, tokenBase, tokenWeth}}, paths)

	path := paths[0]
	quoted, err := node.GetAmountsOut(ctx, big.NewInt(1_000), path)
	require.NoError(t, err)
	deadline := uint64(clock.Now().Unix()) + 60
	amounts, err := node.SwapExactIn(ctx, trader, big.NewInt(1_000), big.NewInt(1), path, trader, deadline)
	require.NoError(t, err)
	require.Len(t, amounts, len(quoted))
	for i := range quoted {
		require.Equal(t, 0, quoted[i].Cmp(amounts[i]), "hop %d", i)
	}

	balance, err := node.BalanceOf(ctx, tokenWeth, trader)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(amounts[len(amounts)-1]))

	clock.Advance(2 * time.Minute)
	fund(t, node, trader, tokenFoo, 10)
	_, err = node.SwapExactIn(ctx, trader, big.NewInt(10), big.NewInt(1), path, trader, deadline)
	require.ErrorIs(t, err, nativecommon.ErrDeadlineExpired)
	balance, err = node.BalanceOf(ctx, tokenFoo, trader)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.Int64())
}

func TestAtomicDiscardsFailedOperations(t *testing.T) {
	node, _ := newTestNode(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := node.atomic(ctx, "test", "fail", func(e *engines) error {
		if err := e.ledger.Mint(tokenFoo, lender, big.NewInt(10)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	balance, err := node.BalanceOf(ctx, tokenFoo, lender)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	err = node.view(ctx, "test", "view", func(e *engines) error {
		return e.ledger.Mint(tokenFoo, lender, big.NewInt(10))
	})
	require.NoError(t, err)
	balance, err = node.BalanceOf(ctx, tokenFoo, lender)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestAdminGates(t *testing.T) {
	node, _ := newTestNode(t)
	ctx := context.Background()
	err := node.MintTokens(ctx, lender, tokenFoo, lender, big.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	_, err = node.InitLendingPool(ctx, lender, tokenFoo, mustPoolConfig(t))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	require.ErrorIs(t, node.SetPriceOracle(ctx, lender, oracle.KindWindowed), nativecommon.ErrUnauthorized)

	require.NoError(t, node.BootstrapLendingPool(ctx, tokenFoo, mustPoolConfig(t)))
	require.NoError(t, node.BootstrapLendingPool(ctx, tokenFoo, mustPoolConfig(t)))
	pools, err := node.LendingPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, lending.PoolActive, pools[0].Status)
}

func TestPausedModuleRejectsEntry(t *testing.T) {
	clock := &testClock{now: time.Unix(genesis, 0)}
	node, err := NewNode(storage.NewMemDB(), Config{
		Admin:             adminAddr,
		BaseToken:         tokenBase,
		FeeBps:            amm.DefaultFeeBps,
		OracleWindow:      60,
		OracleGranularity: 5,
		Pauses:            map[string]bool{"amm": true},
		Clock:             clock.Now,
	})
	require.NoError(t, err)
	_, err = node.CreatePair(context.Background(), tokenFoo, tokenBase)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestNewNodeValidation(t *testing.T) {
	_, err := NewNode(storage.NewMemDB(), Config{Admin: adminAddr, BaseToken: tokenBase, OracleWindow: 60, OracleGranularity: 7})
	require.ErrorIs(t, err, nativecommon.ErrInvalidConfig)
	_, err = NewNode(storage.NewMemDB(), Config{BaseToken: tokenBase, OracleWindow: 60, OracleGranularity: 5})
	require.ErrorIs(t, err, nativecommon.ErrInvalidConfig)
	_, err = NewNode(storage.NewMemDB(), Config{Admin: adminAddr, BaseToken: tokenBase, WrappedNative: tokenWeth, OracleWindow: 60, OracleGranularity: 5})
	require.ErrorIs(t, err, nativecommon.ErrInvalidConfig)
	_, err = NewNode(nil, Config{})
	require.Error(t, err)
}

func TestErrorReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{nativecommon.ErrInvalidAmount, "validation"},
		{nativecommon.ErrAccountUnhealthy, "account_unhealthy"},
		{nativecommon.ErrStaleOracle, "stale_oracle"},
		{nativecommon.ErrModulePaused, "paused"},
		{amm.ErrPairNotFound, "not_found"},
		{router.ErrNoRoute, "not_found"},
		{lending.ErrNoDebt, "insufficient_shares"},
		{fmt.Errorf("wrapped: %w", nativecommon.ErrDeadlineExpired), "deadline_expired"},
		{errors.New("other"), "internal"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ErrorReason(tc.err), "error %v", tc.err)
	}
}

func TestDebtFreeWithdrawUnderFillingWindow(t *testing.T) {
	node, _ := newTestNode(t)
	seedMarkets(t, node)
	ctx := context.Background()
	require.NoError(t, node.SetPriceOracle(ctx, adminAddr, oracle.KindWindowed))
	fund(t, node, lender, tokenFoo, 100)

	_, err := node.Deposit(ctx, lender, tokenFoo, big.NewInt(100))
	require.NoError(t, err)
	amount, err := node.WithdrawByShare(ctx, lender, tokenFoo, big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, int64(50), amount.Int64())

	fund(t, node, borrower, tokenWeth, 10)
	_, err = node.Deposit(ctx, borrower, tokenWeth, big.NewInt(10))
	require.NoError(t, err)
	_, err = node.Borrow(ctx, borrower, tokenFoo, big.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrStaleOracle)
}

func TestWrapAndBurningTransfer(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(genesis, 0)}
	node, err := NewNode(storage.NewMemDB(), Config{
		Admin:             adminAddr,
		BaseToken:         tokenBase,
		NativeToken:       tokenBase,
		WrappedNative:     tokenWeth,
		OracleWindow:      60,
		OracleGranularity: 5,
		Clock:             clock.Now,
	})
	require.NoError(t, err)
	fund(t, node, lender, tokenBase, 100)

	require.NoError(t, node.Wrap(ctx, lender, big.NewInt(40)))
	wrapped, err := node.BalanceOf(ctx, tokenWeth, lender)
	require.NoError(t, err)
	require.Equal(t, int64(40), wrapped.Int64())
	require.ErrorIs(t, node.Unwrap(ctx, lender, big.NewInt(41)), nativecommon.ErrInsufficientFunds)
	require.NoError(t, node.Unwrap(ctx, lender, big.NewInt(15)))
	native, err := node.BalanceOf(ctx, tokenBase, lender)
	require.NoError(t, err)
	require.Equal(t, int64(75), native.Int64())

	burned, err := node.TransferWithBurn(ctx, tokenWeth, lender, borrower, big.NewInt(20))
	require.NoError(t, err)
	require.Equal(t, int64(2), burned.Int64())
	received, err := node.BalanceOf(ctx, tokenWeth, borrower)
	require.NoError(t, err)
	require.Equal(t, int64(18), received.Int64())

	plain, _ := newTestNode(t)
	require.ErrorIs(t, plain.Wrap(ctx, lender, big.NewInt(1)), nativecommon.ErrInvalidConfig)
}

func TestEmergencyUnstakeForfeitsUnfundedRewards(t *testing.T) {
	node, clock := newTestNode(t)
	ctx := context.Background()
	fund(t, node, lender, tokenFoo, 100)
	pool, err := node.CreateStakingPool(ctx, provider, tokenFoo, tokenWeth, big.NewInt(10), genesis, genesis+100)
	require.NoError(t, err)
	require.NoError(t, node.Approve(ctx, tokenFoo, lender, pool.Address, bank.MaxAllowance))
	_, err = node.Stake(ctx, lender, pool.Address, big.NewInt(100))
	require.NoError(t, err)
	clock.Advance(10 * time.Second)

	_, err = node.Unstake(ctx, lender, pool.Address, big.NewInt(100))
	require.ErrorIs(t, err, nativecommon.ErrInsufficientFunds)
	amount, err := node.EmergencyUnstake(ctx, lender, pool.Address)
	require.NoError(t, err)
	require.Equal(t, int64(100), amount.Int64())
	balance, err := node.BalanceOf(ctx, tokenFoo, lender)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Int64())
}
