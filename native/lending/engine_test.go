package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/core/state"
	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
	"defiapps/native/oracle"
	"defiapps/storage"
)

var (
	moduleAddr = common.HexToAddress("0x000000000000000000000000000000000000a001")
	adminAddr  = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	baseToken  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenFoo   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenWeth  = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	lender     = common.HexToAddress("0x0000000000000000000000000000000000000111")
	borrower   = common.HexToAddress("0x0000000000000000000000000000000000000222")
)

const genesis = 1_700_000_000

type fixedOracle struct {
	prices map[common.Address]*big.Int
}

func (o *fixedOracle) Base() common.Address { return baseToken }

func (o *fixedOracle) PriceInBase(token common.Address) (*big.Int, error) {
	price, ok := o.prices[token]
	if !ok {
		return nil, nativecommon.ErrStaleOracle
	}
	return new(big.Int).Set(price), nil
}

type testEnv struct {
	engine *Engine
	ledger *bank.Ledger
	prices *fixedOracle
	now    time.Time
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func wadFraction(num, den int64) *big.Int {
	v := new(big.Int).Mul(wad, big.NewInt(num))
	return v.Quo(v, big.NewInt(den))
}

func testConfig() PoolConfig {
	return PoolConfig{
		BaseRate:           wadFraction(1, 10),
		OptimalUtilization: wadFraction(8, 10),
		SlopeBelowOptimal:  big.NewInt(0),
		SlopeAboveOptimal:  big.NewInt(0),
		CollateralFactor:   wadFraction(3, 4),
		LiquidationBonus:   wadFraction(105, 100),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	env := &testEnv{
		ledger: ledger,
		prices: &fixedOracle{prices: map[common.Address]*big.Int{
			tokenFoo:  wadFraction(1, 10),
			tokenWeth: new(big.Int).Set(wad),
		}},
		now: time.Unix(genesis, 0),
	}
	engine := NewEngine(moduleAddr, adminAddr)
	engine.SetState(mgr)
	engine.SetLedger(ledger)
	engine.SetOracle(oracle.KindSpot, env.prices)
	engine.SetClock(func() time.Time { return env.now })
	env.engine = engine

	for _, asset := range []common.Address{tokenFoo, tokenWeth} {
		if _, err := engine.InitPool(adminAddr, asset, testConfig()); err != nil {
			t.Fatalf("init pool: %v", err)
		}
		if err := engine.SetStatus(adminAddr, asset, PoolActive); err != nil {
			t.Fatalf("activate pool: %v", err)
		}
		for _, user := range []common.Address{lender, borrower} {
			if err := ledger.Mint(asset, user, big.NewInt(1_000_000)); err != nil {
				t.Fatalf("mint: %v", err)
			}
			if err := ledger.Approve(asset, user, moduleAddr, bank.MaxAllowance); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
	}
	return env
}

func (env *testEnv) balance(t *testing.T, token, owner common.Address) *big.Int {
	t.Helper()
	bal, err := env.ledger.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) pool(t *testing.T, asset common.Address) *AssetPool {
	t.Helper()
	pool, err := env.engine.GetPool(asset)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return pool
}

func TestInitPoolRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	other := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	if _, err := env.engine.InitPool(lender, other, testConfig()); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.InitPool(adminAddr, tokenFoo, testConfig()); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
	bad := testConfig()
	bad.OptimalUtilization = new(big.Int).Set(wad)
	if _, err := env.engine.InitPool(adminAddr, other, bad); !errors.Is(err, nativecommon.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	pool, err := env.engine.InitPool(adminAddr, other, testConfig())
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}
	if pool.Status != PoolInactive {
		t.Fatalf("expected new pool inactive, got %s", pool.Status)
	}
	if _, err := env.engine.Deposit(lender, other, big.NewInt(10)); !errors.Is(err, ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive, got %v", err)
	}
	pools, err := env.engine.AllPools()
	if err != nil {
		t.Fatalf("all pools: %v", err)
	}
	if len(pools) != 3 || pools[2].Asset != other {
		t.Fatalf("unexpected pool index %+v", pools)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	shares, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected first deposit to mint 1:1, got %s", shares)
	}
	if bal := env.balance(t, tokenFoo, moduleAddr); bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected module to hold 1000, got %s", bal)
	}
	position, err := env.engine.GetUserPoolData(lender, tokenFoo)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if !position.UsePoolAsCollateral {
		t.Fatalf("expected first deposit to enable collateral")
	}
	amount, err := env.engine.WithdrawByShare(lender, tokenFoo, shares)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 back, got %s", amount)
	}
	if bal := env.balance(t, tokenFoo, lender); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected balance restored, got %s", bal)
	}
	pool := env.pool(t, tokenFoo)
	if pool.TotalLiquidity.Sign() != 0 || pool.TotalLiquidityShares.Sign() != 0 {
		t.Fatalf("expected empty pool, got %s/%s", pool.TotalLiquidity, pool.TotalLiquidityShares)
	}
}

func TestWithdrawByAmountRoundsSharesUp(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.advance(365 * 24 * time.Hour)

	// 1000 liquidity grew to 1050 against 1000 shares.
	shares, err := env.engine.WithdrawByAmount(lender, tokenFoo, big.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if shares.Cmp(big.NewInt(96)) != 0 {
		t.Fatalf("expected ceil(100*1000/1050)=96 shares, got %s", shares)
	}
	if _, err := env.engine.WithdrawByAmount(lender, tokenFoo, big.NewInt(600)); !errors.Is(err, nativecommon.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := env.engine.WithdrawByShare(borrower, tokenFoo, big.NewInt(1)); !errors.Is(err, nativecommon.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestBorrowHealthBoundary(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(10)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	shares, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(50))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if shares.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 borrow shares, got %s", shares)
	}
	pool := env.pool(t, tokenFoo)
	if pool.TotalBorrows.Cmp(big.NewInt(50)) != 0 || pool.TotalBorrowShares.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected borrows %s shares %s", pool.TotalBorrows, pool.TotalBorrowShares)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(40)); !errors.Is(err, nativecommon.ErrAccountUnhealthy) {
		t.Fatalf("expected ErrAccountUnhealthy, got %v", err)
	}
	pool = env.pool(t, tokenFoo)
	if pool.TotalBorrows.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("failed borrow mutated pool: %s", pool.TotalBorrows)
	}
	if bal := env.balance(t, tokenFoo, borrower); bal.Cmp(big.NewInt(1_000_050)) != 0 {
		t.Fatalf("unexpected borrower balance %s", bal)
	}
	healthy, err := env.engine.IsAccountHealthy(borrower)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !healthy {
		t.Fatalf("expected borrower healthy")
	}
	info, err := env.engine.GetUserInfo(borrower)
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if info.TotalCollateralValue.Cmp(big.NewInt(7)) != 0 || info.TotalBorrowedValue.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected valuation %s/%s", info.TotalCollateralValue, info.TotalBorrowedValue)
	}
	if len(info.Positions) != 2 {
		t.Fatalf("expected two positions, got %d", len(info.Positions))
	}
}

func TestBorrowRequiresCollateral(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(10)); !errors.Is(err, nativecommon.ErrAccountUnhealthy) {
		t.Fatalf("expected ErrAccountUnhealthy, got %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(101)); !errors.Is(err, nativecommon.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestCollateralToggleKeepsAccountHealthy(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(10)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.engine.SetUsePoolAsCollateral(borrower, tokenWeth, false); !errors.Is(err, nativecommon.ErrAccountUnhealthy) {
		t.Fatalf("expected ErrAccountUnhealthy, got %v", err)
	}
	if _, err := env.engine.WithdrawByShare(borrower, tokenWeth, big.NewInt(5)); !errors.Is(err, nativecommon.ErrAccountUnhealthy) {
		t.Fatalf("expected ErrAccountUnhealthy, got %v", err)
	}
	if err := env.engine.SetUsePoolAsCollateral(lender, tokenFoo, false); err != nil {
		t.Fatalf("lender without debt toggles freely: %v", err)
	}
}

func TestRepayByShareIncludesInterest(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(10)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.advance(365 * 24 * time.Hour)

	amount, err := env.engine.RepayByShare(borrower, tokenFoo, big.NewInt(50))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if amount.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("expected 55 repaid after a year at 10%%, got %s", amount)
	}
	pool := env.pool(t, tokenFoo)
	if pool.TotalBorrows.Sign() != 0 || pool.TotalBorrowShares.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s/%s", pool.TotalBorrows, pool.TotalBorrowShares)
	}
	if pool.TotalLiquidity.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("expected lenders credited to 105, got %s", pool.TotalLiquidity)
	}
	if _, err := env.engine.RepayByShare(borrower, tokenFoo, big.NewInt(1)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt, got %v", err)
	}
	amountOut, err := env.engine.WithdrawByShare(lender, tokenFoo, big.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amountOut.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("expected lender to earn interest, got %s", amountOut)
	}
}

func TestRepayByAmountCapsAtDebt(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(200)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	amount, shares, err := env.engine.RepayByAmount(borrower, tokenFoo, big.NewInt(50))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if amount.Cmp(big.NewInt(50)) != 0 || shares.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected partial repay %s/%s", amount, shares)
	}
	before := env.balance(t, tokenFoo, borrower)
	amount, shares, err = env.engine.RepayByAmount(borrower, tokenFoo, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if amount.Cmp(big.NewInt(150)) != 0 || shares.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected repay capped at 150, got %s/%s", amount, shares)
	}
	spent := new(big.Int).Sub(before, env.balance(t, tokenFoo, borrower))
	if spent.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected 150 charged, got %s", spent)
	}
}

func TestPoolRatesFollowUtilisation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	borrowRate, lendingRate, err := env.engine.PoolRates(tokenFoo)
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if borrowRate.Cmp(wadFraction(1, 10)) != 0 {
		t.Fatalf("expected 10%% borrow rate, got %s", borrowRate)
	}
	if lendingRate.Cmp(wadFraction(1, 20)) != 0 {
		t.Fatalf("expected 5%% lending rate, got %s", lendingRate)
	}
}

func TestSetPriceOracleSelectsVariant(t *testing.T) {
	env := newTestEnv(t)
	kind, err := env.engine.OracleKind()
	if err != nil {
		t.Fatalf("oracle kind: %v", err)
	}
	if kind != oracle.KindSpot {
		t.Fatalf("expected spot by default, got %s", kind)
	}
	if err := env.engine.SetPriceOracle(lender, oracle.KindWindowed); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetPriceOracle(adminAddr, oracle.KindWindowed); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(10)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.GetUserInfo(borrower); !errors.Is(err, errNilOracle) {
		t.Fatalf("expected unregistered windowed oracle to fail, got %v", err)
	}
}

func TestDebtFreeExitIgnoresStaleOracle(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetOracle(oracle.KindWindowed, &fixedOracle{prices: map[common.Address]*big.Int{}})
	if err := env.engine.SetPriceOracle(adminAddr, oracle.KindWindowed); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	if _, err := env.engine.Deposit(lender, tokenFoo, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	amount, err := env.engine.WithdrawByShare(lender, tokenFoo, big.NewInt(50))
	if err != nil {
		t.Fatalf("withdraw without debt: %v", err)
	}
	if amount.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 withdrawn, got %s", amount)
	}
	if err := env.engine.SetUsePoolAsCollateral(lender, tokenFoo, false); err != nil {
		t.Fatalf("disable collateral without debt: %v", err)
	}

	if _, err := env.engine.Deposit(borrower, tokenWeth, big.NewInt(10)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, tokenFoo, big.NewInt(1)); !errors.Is(err, nativecommon.ErrStaleOracle) {
		t.Fatalf("expected borrow to need a fresh price, got %v", err)
	}
	position, err := env.engine.GetUserPoolData(borrower, tokenFoo)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if position.BorrowShares.Sign() != 0 {
		t.Fatalf("expected no debt recorded, got %s shares", position.BorrowShares)
	}
}
