package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
	"defiapps/native/oracle"
)

var (
	errNilState  = errors.New("lending engine: state not configured")
	errNilOracle = errors.New("lending engine: price oracle not configured")

	// ErrPoolNotFound is returned for assets without an initialised pool.
	ErrPoolNotFound = errors.New("lending engine: pool not found")
	// ErrPoolExists is returned when initialising an asset twice.
	ErrPoolExists = errors.New("lending engine: pool already initialised")
	// ErrPoolInactive is returned by deposits and borrows on inactive pools.
	ErrPoolInactive = errors.New("lending engine: pool inactive")
	// ErrNoDebt is returned when repaying without outstanding borrow shares.
	ErrNoDebt = fmt.Errorf("%w: no outstanding debt", nativecommon.ErrInsufficientShares)
)

const moduleName = "lending"

// Storage abstracts the state manager methods the lending engine needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine orchestrates the state transitions of the lending pools. Pool assets
// are held by the module address; users approve it before depositing or
// repaying.
type Engine struct {
	state         Storage
	ledger        bank.TransferAuthority
	moduleAddress common.Address
	admin         common.Address
	oracles       map[oracle.Kind]oracle.PriceOracle
	pauses        nativecommon.PauseView
	nowFn         func() time.Time
}

// NewEngine constructs a lending engine holding funds at moduleAddr and
// accepting configuration changes from admin.
func NewEngine(moduleAddr, admin common.Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		admin:         admin,
		oracles:       make(map[oracle.Kind]oracle.PriceOracle),
		nowFn:         time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetLedger wires the token ledger.
func (e *Engine) SetLedger(ledger bank.TransferAuthority) { e.ledger = ledger }

// SetOracle registers the implementation used when kind is selected.
func (e *Engine) SetOracle(kind oracle.Kind, o oracle.PriceOracle) {
	if e == nil {
		return
	}
	e.oracles[kind] = o
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source used for accrual.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// ModuleAddress returns the account holding pool assets.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledger == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) authorize(caller common.Address) error {
	if caller != e.admin || caller == (common.Address{}) {
		return fmt.Errorf("%w: %s is not the lending admin", nativecommon.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.ErrInvalidAmount
	}
	return nil
}

func validAccount(user common.Address) error {
	if user == (common.Address{}) {
		return nativecommon.ErrInvalidAddress
	}
	return nil
}

// --- admin ---

// InitPool creates an inactive pool for asset.
func (e *Engine) InitPool(caller, asset common.Address, cfg PoolConfig) (*AssetPool, error) {
	if err := e.authorize(caller); err != nil {
		return nil, err
	}
	if err := validAccount(asset); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	existing, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPoolExists
	}
	pool := &AssetPool{
		Asset:       asset,
		Status:      PoolInactive,
		LastAccrual: e.now(),
		Config:      cfg.Clone(),
	}
	pool.ensureDefaults()
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(poolIndexKey, asset.Bytes()); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// SetStatus activates or deactivates a pool.
func (e *Engine) SetStatus(caller, asset common.Address, status PoolStatus) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if status != PoolInactive && status != PoolActive {
		return fmt.Errorf("%w: unknown pool status %d", nativecommon.ErrValidation, status)
	}
	pool, err := e.pool(asset)
	if err != nil {
		return err
	}
	e.accrue(pool, e.now())
	pool.Status = status
	return e.storePool(pool)
}

// SetPoolConfig re-points the pool to a new configuration. Interest up to now
// accrues under the previous curve.
func (e *Engine) SetPoolConfig(caller, asset common.Address, cfg PoolConfig) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return err
	}
	e.accrue(pool, e.now())
	pool.Config = cfg.Clone()
	return e.storePool(pool)
}

// SetPriceOracle selects the oracle variant used for account valuation.
func (e *Engine) SetPriceOracle(caller common.Address, kind oracle.Kind) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if kind != oracle.KindSpot && kind != oracle.KindWindowed {
		return fmt.Errorf("%w: unknown oracle kind %d", nativecommon.ErrValidation, kind)
	}
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.KVPut(oracleKindKey, uint8(kind))
}

// OracleKind returns the selected oracle variant. Spot is used until an admin
// selects otherwise.
func (e *Engine) OracleKind() (oracle.Kind, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var raw uint8
	if _, err := e.state.KVGet(oracleKindKey, &raw); err != nil {
		return 0, err
	}
	return oracle.Kind(raw), nil
}

func (e *Engine) priceOracle() (oracle.PriceOracle, error) {
	kind, err := e.OracleKind()
	if err != nil {
		return nil, err
	}
	o := e.oracles[kind]
	if o == nil {
		return nil, fmt.Errorf("%w: %s", errNilOracle, kind)
	}
	return o, nil
}

// --- accrual ---

// accrue applies interest from LastAccrual up to now: debt grows by the
// borrow rate over the elapsed time and liquidity is credited by the same
// amount.
func (e *Engine) accrue(pool *AssetPool, now uint64) {
	if now <= pool.LastAccrual {
		return
	}
	delta := now - pool.LastAccrual
	pool.LastAccrual = now
	if pool.TotalBorrows.Sign() == 0 {
		return
	}
	rate := NewInterestModel(pool.Config).BorrowRate(pool.Utilisation())
	pool.BorrowIndex = rayMul(pool.BorrowIndex, rateFactor(rate, delta))
	interest := computeInterest(pool.TotalBorrows, rate, delta)
	if interest.Sign() == 0 {
		return
	}
	previous := new(big.Int).Set(pool.TotalLiquidity)
	pool.TotalBorrows = new(big.Int).Add(pool.TotalBorrows, interest)
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, interest)
	if previous.Sign() > 0 {
		pool.LiquidityIndex = mulDivDown(pool.LiquidityIndex, pool.TotalLiquidity, previous)
	}
}

// --- user operations ---

// Deposit supplies amount of asset and returns the liquidity shares minted.
func (e *Engine) Deposit(user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.activePool(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(pool, e.now())
	shares := new(big.Int).Set(amount)
	if pool.TotalLiquidityShares.Sign() > 0 && pool.TotalLiquidity.Sign() > 0 {
		shares = mulDivDown(amount, pool.TotalLiquidityShares, pool.TotalLiquidity)
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint shares", nativecommon.ErrInvalidAmount)
	}
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	if data.LiquidityShares.Sign() == 0 {
		data.UsePoolAsCollateral = true
	}
	if err := e.ledger.TransferFrom(asset, e.moduleAddress, user, e.moduleAddress, amount); err != nil {
		return nil, err
	}
	data.LiquidityShares.Add(data.LiquidityShares, shares)
	pool.TotalLiquidity.Add(pool.TotalLiquidity, amount)
	pool.TotalLiquidityShares.Add(pool.TotalLiquidityShares, shares)
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if err := e.storeUser(asset, user, data); err != nil {
		return nil, err
	}
	return shares, nil
}

// WithdrawByShare redeems liquidity shares and returns the amount paid out,
// rounded down.
func (e *Engine) WithdrawByShare(user, asset common.Address, shares *big.Int) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	e.accrue(pool, now)
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	if data.LiquidityShares.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: holding %s, redeeming %s", nativecommon.ErrInsufficientShares, data.LiquidityShares, shares)
	}
	amount := mulDivDown(shares, pool.TotalLiquidity, pool.TotalLiquidityShares)
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: shares redeem for nothing", nativecommon.ErrInvalidAmount)
	}
	if err := e.withdraw(user, pool, data, shares, amount, now); err != nil {
		return nil, err
	}
	return amount, nil
}

// WithdrawByAmount withdraws exactly amount and returns the shares burned,
// rounded up.
func (e *Engine) WithdrawByAmount(user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	e.accrue(pool, now)
	if pool.TotalLiquidity.Sign() == 0 {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	shares := mulDivUp(amount, pool.TotalLiquidityShares, pool.TotalLiquidity)
	if data.LiquidityShares.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: holding %s, need %s", nativecommon.ErrInsufficientShares, data.LiquidityShares, shares)
	}
	if err := e.withdraw(user, pool, data, shares, amount, now); err != nil {
		return nil, err
	}
	return shares, nil
}

func (e *Engine) withdraw(user common.Address, pool *AssetPool, data *UserPoolData, shares, amount *big.Int, now uint64) error {
	if available := pool.AvailableLiquidity(); amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: requested %s, available %s", nativecommon.ErrInsufficientLiquidity, amount, available)
	}
	data.LiquidityShares.Sub(data.LiquidityShares, shares)
	pool.TotalLiquidity.Sub(pool.TotalLiquidity, amount)
	pool.TotalLiquidityShares.Sub(pool.TotalLiquidityShares, shares)
	if data.UsePoolAsCollateral {
		if err := e.requireHealthy(user, now, pool, data); err != nil {
			return err
		}
	}
	if err := e.ledger.Transfer(pool.Asset, e.moduleAddress, user, amount); err != nil {
		return err
	}
	if err := e.storePool(pool); err != nil {
		return err
	}
	return e.storeUser(pool.Asset, user, data)
}

// Borrow lends amount of asset to user and returns the borrow shares issued,
// rounded up. The account must stay healthy after the borrow.
func (e *Engine) Borrow(user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.activePool(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	e.accrue(pool, now)
	if available := pool.AvailableLiquidity(); amount.Cmp(available) > 0 {
		return nil, fmt.Errorf("%w: requested %s, available %s", nativecommon.ErrInsufficientLiquidity, amount, available)
	}
	shares := new(big.Int).Set(amount)
	if pool.TotalBorrowShares.Sign() > 0 && pool.TotalBorrows.Sign() > 0 {
		shares = mulDivUp(amount, pool.TotalBorrowShares, pool.TotalBorrows)
	}
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	data.BorrowShares.Add(data.BorrowShares, shares)
	pool.TotalBorrows.Add(pool.TotalBorrows, amount)
	pool.TotalBorrowShares.Add(pool.TotalBorrowShares, shares)
	if err := e.requireHealthy(user, now, pool, data); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(asset, e.moduleAddress, user, amount); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if err := e.storeUser(asset, user, data); err != nil {
		return nil, err
	}
	return shares, nil
}

// RepayByShare extinguishes exactly shares of the user's debt and returns the
// amount charged, rounded up.
func (e *Engine) RepayByShare(user, asset common.Address, shares *big.Int) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(pool, e.now())
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	if data.BorrowShares.Sign() == 0 {
		return nil, ErrNoDebt
	}
	if data.BorrowShares.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: owing %s shares, repaying %s", nativecommon.ErrInsufficientShares, data.BorrowShares, shares)
	}
	amount := mulDivUp(shares, pool.TotalBorrows, pool.TotalBorrowShares)
	if err := e.repay(user, pool, data, shares, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// RepayByAmount repays up to amount of the user's debt and returns the amount
// actually charged with the shares extinguished. Amounts above the
// outstanding debt are capped; partial repayments round shares down.
func (e *Engine) RepayByAmount(user, asset common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if err := validAmount(amount); err != nil {
		return nil, nil, err
	}
	if err := validAccount(user); err != nil {
		return nil, nil, err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return nil, nil, err
	}
	e.accrue(pool, e.now())
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, nil, err
	}
	if data.BorrowShares.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}
	debt := mulDivUp(data.BorrowShares, pool.TotalBorrows, pool.TotalBorrowShares)
	var shares *big.Int
	if amount.Cmp(debt) >= 0 {
		shares = new(big.Int).Set(data.BorrowShares)
		amount = debt
	} else {
		shares = mulDivDown(amount, pool.TotalBorrowShares, pool.TotalBorrows)
		if shares.Sign() == 0 {
			return nil, nil, fmt.Errorf("%w: repayment below one share", nativecommon.ErrInvalidAmount)
		}
		amount = new(big.Int).Set(amount)
	}
	if err := e.repay(user, pool, data, shares, amount); err != nil {
		return nil, nil, err
	}
	return amount, shares, nil
}

func (e *Engine) repay(user common.Address, pool *AssetPool, data *UserPoolData, shares, amount *big.Int) error {
	if err := e.ledger.TransferFrom(pool.Asset, e.moduleAddress, user, e.moduleAddress, amount); err != nil {
		return err
	}
	data.BorrowShares.Sub(data.BorrowShares, shares)
	pool.TotalBorrowShares.Sub(pool.TotalBorrowShares, shares)
	pool.TotalBorrows.Sub(pool.TotalBorrows, amount)
	if pool.TotalBorrows.Sign() < 0 {
		// Round-up overshoot reached the module's cash, so lenders own it.
		pool.TotalLiquidity.Sub(pool.TotalLiquidity, pool.TotalBorrows)
		pool.TotalBorrows.SetInt64(0)
	}
	if pool.TotalBorrowShares.Sign() == 0 && pool.TotalBorrows.Sign() > 0 {
		// Rounding dust left without any share owner is written off.
		pool.TotalLiquidity.Sub(pool.TotalLiquidity, pool.TotalBorrows)
		pool.TotalBorrows.SetInt64(0)
	}
	if err := e.storePool(pool); err != nil {
		return err
	}
	return e.storeUser(pool.Asset, user, data)
}

// SetUsePoolAsCollateral toggles whether the user's liquidity in asset backs
// their debt. Disabling requires the account to remain healthy.
func (e *Engine) SetUsePoolAsCollateral(user, asset common.Address, use bool) error {
	if err := validAccount(user); err != nil {
		return err
	}
	pool, err := e.pool(asset)
	if err != nil {
		return err
	}
	now := e.now()
	e.accrue(pool, now)
	data, err := e.loadUser(asset, user)
	if err != nil {
		return err
	}
	if data.UsePoolAsCollateral == use {
		return nil
	}
	data.UsePoolAsCollateral = use
	if !use {
		if err := e.requireHealthy(user, now, pool, data); err != nil {
			return err
		}
	}
	if err := e.storePool(pool); err != nil {
		return err
	}
	return e.storeUser(asset, user, data)
}

// --- health ---

type pendingPosition struct {
	pool *AssetPool
	data *UserPoolData
}

func (e *Engine) requireHealthy(user common.Address, now uint64, pool *AssetPool, data *UserPoolData) error {
	pending := map[common.Address]pendingPosition{pool.Asset: {pool: pool, data: data}}
	indebted, err := e.hasDebt(user, pending)
	if err != nil {
		return err
	}
	if !indebted {
		return nil
	}
	account, err := e.account(user, now, pending)
	if err != nil {
		return err
	}
	if account.TotalCollateralValue.Cmp(account.TotalBorrowedValue) < 0 {
		return fmt.Errorf("%w: collateral %s below debt %s", nativecommon.ErrAccountUnhealthy, account.TotalCollateralValue, account.TotalBorrowedValue)
	}
	return nil
}

// hasDebt reports whether user owes borrow shares in any pool. Accounts
// without debt are solvent whatever the oracle reports.
func (e *Engine) hasDebt(user common.Address, pending map[common.Address]pendingPosition) (bool, error) {
	assets, err := e.poolAssets()
	if err != nil {
		return false, err
	}
	for _, asset := range assets {
		data := pending[asset].data
		if data == nil {
			if data, err = e.loadUser(asset, user); err != nil {
				return false, err
			}
		}
		if data.BorrowShares.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// account values every position of user at now. Pools other than the pending
// ones are projected to now without being written.
func (e *Engine) account(user common.Address, now uint64, pending map[common.Address]pendingPosition) (*UserAccount, error) {
	assets, err := e.poolAssets()
	if err != nil {
		return nil, err
	}
	result := &UserAccount{
		Address:              user,
		TotalCollateralValue: big.NewInt(0),
		TotalBorrowedValue:   big.NewInt(0),
		Positions:            make([]UserPosition, 0),
	}
	var priceSource oracle.PriceOracle
	for _, asset := range assets {
		var pool *AssetPool
		var data *UserPoolData
		if p, ok := pending[asset]; ok {
			pool, data = p.pool, p.data
		} else {
			if pool, err = e.loadPool(asset); err != nil {
				return nil, err
			}
			if pool == nil {
				continue
			}
			e.accrue(pool, now)
			if data, err = e.loadUser(asset, user); err != nil {
				return nil, err
			}
		}
		if data.Empty() {
			continue
		}
		position := positionOf(pool, data)
		result.Positions = append(result.Positions, position)

		collateral := data.UsePoolAsCollateral && position.Liquidity.Sign() > 0
		if !collateral && position.Debt.Sign() == 0 {
			continue
		}
		if priceSource == nil {
			if priceSource, err = e.priceOracle(); err != nil {
				return nil, err
			}
		}
		price, err := priceSource.PriceInBase(asset)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", asset.Hex(), err)
		}
		if collateral {
			value := new(big.Int).Mul(position.Liquidity, price)
			value.Mul(value, pool.Config.CollateralFactor)
			value.Quo(value, new(big.Int).Mul(wad, wad))
			result.TotalCollateralValue.Add(result.TotalCollateralValue, value)
		}
		if position.Debt.Sign() > 0 {
			value := new(big.Int).Mul(position.Debt, price)
			value.Quo(value, wad)
			result.TotalBorrowedValue.Add(result.TotalBorrowedValue, value)
		}
	}
	if result.TotalBorrowedValue.Sign() > 0 {
		hf := new(big.Int).Mul(result.TotalCollateralValue, wad)
		result.HealthFactor = hf.Quo(hf, result.TotalBorrowedValue)
	}
	return result, nil
}

func positionOf(pool *AssetPool, data *UserPoolData) UserPosition {
	return UserPosition{
		Asset:        pool.Asset,
		UserPoolData: *data.Clone(),
		Liquidity:    mulDivDown(data.LiquidityShares, pool.TotalLiquidity, pool.TotalLiquidityShares),
		Debt:         mulDivUp(data.BorrowShares, pool.TotalBorrows, pool.TotalBorrowShares),
	}
}

// --- queries ---

// GetPool returns the pool for asset with interest projected to now.
func (e *Engine) GetPool(asset common.Address) (*AssetPool, error) {
	pool, err := e.pool(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(pool, e.now())
	return pool, nil
}

// AllPools returns every pool in initialisation order with interest projected
// to now.
func (e *Engine) AllPools() ([]*AssetPool, error) {
	assets, err := e.poolAssets()
	if err != nil {
		return nil, err
	}
	now := e.now()
	pools := make([]*AssetPool, 0, len(assets))
	for _, asset := range assets {
		pool, err := e.loadPool(asset)
		if err != nil {
			return nil, err
		}
		if pool == nil {
			continue
		}
		e.accrue(pool, now)
		pools = append(pools, pool)
	}
	return pools, nil
}

// PoolRates returns the current annual borrow and lending rates of a pool in
// WAD.
func (e *Engine) PoolRates(asset common.Address) (*big.Int, *big.Int, error) {
	pool, err := e.GetPool(asset)
	if err != nil {
		return nil, nil, err
	}
	borrowRate, lendingRate := NewInterestModel(pool.Config).PoolRates(pool)
	return RatToWad(borrowRate), RatToWad(lendingRate), nil
}

// GetUserPoolData returns the position of user in asset's pool.
func (e *Engine) GetUserPoolData(user, asset common.Address) (*UserPosition, error) {
	pool, err := e.GetPool(asset)
	if err != nil {
		return nil, err
	}
	data, err := e.loadUser(asset, user)
	if err != nil {
		return nil, err
	}
	position := positionOf(pool, data)
	return &position, nil
}

// GetUserInfo aggregates the user's positions and valuation.
func (e *Engine) GetUserInfo(user common.Address) (*UserAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.account(user, e.now(), nil)
}

// IsAccountHealthy reports whether collateral value covers borrowed value.
func (e *Engine) IsAccountHealthy(user common.Address) (bool, error) {
	account, err := e.GetUserInfo(user)
	if err != nil {
		return false, err
	}
	return account.TotalCollateralValue.Cmp(account.TotalBorrowedValue) >= 0, nil
}

// --- persistence ---

func (e *Engine) pool(asset common.Address) (*AssetPool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (e *Engine) activePool(asset common.Address) (*AssetPool, error) {
	pool, err := e.pool(asset)
	if err != nil {
		return nil, err
	}
	if pool.Status != PoolActive {
		return nil, ErrPoolInactive
	}
	return pool, nil
}

func (e *Engine) poolAssets() ([]common.Address, error) {
	var index [][]byte
	if err := e.state.KVGetList(poolIndexKey, &index); err != nil {
		return nil, err
	}
	assets := make([]common.Address, 0, len(index))
	for _, raw := range index {
		assets = append(assets, common.BytesToAddress(raw))
	}
	return assets, nil
}

func (e *Engine) loadPool(asset common.Address) (*AssetPool, error) {
	var pool AssetPool
	ok, err := e.state.KVGet(poolKey(asset), &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	pool.ensureDefaults()
	return &pool, nil
}

func (e *Engine) storePool(pool *AssetPool) error {
	pool.ensureDefaults()
	return e.state.KVPut(poolKey(pool.Asset), pool)
}

func (e *Engine) loadUser(asset, user common.Address) (*UserPoolData, error) {
	var data UserPoolData
	if _, err := e.state.KVGet(userKey(asset, user), &data); err != nil {
		return nil, err
	}
	data.ensureDefaults()
	return &data, nil
}

func (e *Engine) storeUser(asset, user common.Address, data *UserPoolData) error {
	data.ensureDefaults()
	return e.state.KVPut(userKey(asset, user), data)
}
