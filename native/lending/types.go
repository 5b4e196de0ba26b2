package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolStatus gates the entry operations of an asset pool.
type PoolStatus uint8

const (
	// PoolInactive pools accept withdrawals and repayments only.
	PoolInactive PoolStatus = iota
	// PoolActive pools accept deposits and borrows.
	PoolActive
)

func (s PoolStatus) String() string {
	if s == PoolActive {
		return "active"
	}
	return "inactive"
}

// AssetPool captures the accounting state of a single lending market. Amount
// values are denominated in the asset's base units.
type AssetPool struct {
	// Asset is the token lent and borrowed through the pool.
	Asset common.Address
	// Status gates deposits and borrows.
	Status PoolStatus
	// TotalLiquidity is the underlying owed to liquidity providers, borrowed
	// funds and accrued interest included.
	TotalLiquidity *big.Int
	// TotalLiquidityShares is the supply of liquidity shares.
	TotalLiquidityShares *big.Int
	// TotalBorrows is the outstanding debt including accrued interest.
	TotalBorrows *big.Int
	// TotalBorrowShares is the supply of borrow shares.
	TotalBorrowShares *big.Int
	// LiquidityIndex tracks the growth of one unit of liquidity (ray).
	LiquidityIndex *big.Int
	// BorrowIndex tracks the compounding of one unit of debt (ray).
	BorrowIndex *big.Int
	// LastAccrual is the unix time interest was last applied.
	LastAccrual uint64
	// Config holds the rate curve and risk parameters.
	Config PoolConfig
}

// UserPoolData is the position of one user in one pool.
type UserPoolData struct {
	LiquidityShares     *big.Int
	BorrowShares        *big.Int
	UsePoolAsCollateral bool
}

// UserPosition augments the stored shares with their current underlying
// amounts.
type UserPosition struct {
	Asset common.Address
	UserPoolData
	Liquidity *big.Int
	Debt      *big.Int
}

// UserAccount aggregates a user's positions across every pool. Values are in
// base-token units scaled by the oracle's WAD.
type UserAccount struct {
	Address              common.Address
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	// HealthFactor is collateral over debt in WAD; nil when there is no debt.
	HealthFactor *big.Int
	Positions    []UserPosition
}

// AvailableLiquidity returns the cash held by the pool.
func (p *AssetPool) AvailableLiquidity() *big.Int {
	return new(big.Int).Sub(p.TotalLiquidity, p.TotalBorrows)
}

// Utilisation returns TotalBorrows / TotalLiquidity.
func (p *AssetPool) Utilisation() *big.Rat {
	if p.TotalLiquidity == nil || p.TotalLiquidity.Sign() == 0 || p.TotalBorrows == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(p.TotalBorrows, p.TotalLiquidity)
}

// Clone returns a deep copy of the pool.
func (p *AssetPool) Clone() *AssetPool {
	if p == nil {
		return nil
	}
	return &AssetPool{
		Asset:                p.Asset,
		Status:               p.Status,
		TotalLiquidity:       cloneBig(p.TotalLiquidity),
		TotalLiquidityShares: cloneBig(p.TotalLiquidityShares),
		TotalBorrows:         cloneBig(p.TotalBorrows),
		TotalBorrowShares:    cloneBig(p.TotalBorrowShares),
		LiquidityIndex:       cloneBig(p.LiquidityIndex),
		BorrowIndex:          cloneBig(p.BorrowIndex),
		LastAccrual:          p.LastAccrual,
		Config:               p.Config.Clone(),
	}
}

func (p *AssetPool) ensureDefaults() {
	if p.TotalLiquidity == nil {
		p.TotalLiquidity = big.NewInt(0)
	}
	if p.TotalLiquidityShares == nil {
		p.TotalLiquidityShares = big.NewInt(0)
	}
	if p.TotalBorrows == nil {
		p.TotalBorrows = big.NewInt(0)
	}
	if p.TotalBorrowShares == nil {
		p.TotalBorrowShares = big.NewInt(0)
	}
	if p.LiquidityIndex == nil || p.LiquidityIndex.Sign() == 0 {
		p.LiquidityIndex = new(big.Int).Set(ray)
	}
	if p.BorrowIndex == nil || p.BorrowIndex.Sign() == 0 {
		p.BorrowIndex = new(big.Int).Set(ray)
	}
	p.Config.ensureDefaults()
}

// Clone returns a deep copy of the user data.
func (u *UserPoolData) Clone() *UserPoolData {
	if u == nil {
		return nil
	}
	return &UserPoolData{
		LiquidityShares:     cloneBig(u.LiquidityShares),
		BorrowShares:        cloneBig(u.BorrowShares),
		UsePoolAsCollateral: u.UsePoolAsCollateral,
	}
}

func (u *UserPoolData) ensureDefaults() {
	if u.LiquidityShares == nil {
		u.LiquidityShares = big.NewInt(0)
	}
	if u.BorrowShares == nil {
		u.BorrowShares = big.NewInt(0)
	}
}

// Empty reports whether the user holds neither liquidity nor debt.
func (u *UserPoolData) Empty() bool {
	return u.LiquidityShares.Sign() == 0 && u.BorrowShares.Sign() == 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
