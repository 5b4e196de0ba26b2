package core

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/lending"
	"defiapps/native/oracle"
	"defiapps/observability"
)

func (n *Node) InitLendingPool(ctx context.Context, caller, asset common.Address, cfg lending.PoolConfig) (*lending.AssetPool, error) {
	var pool *lending.AssetPool
	err := n.atomic(ctx, moduleLending, "init_pool", func(e *engines) error {
		var err error
		pool, err = e.lending.InitPool(caller, asset, cfg)
		return err
	})
	return pool, err
}

func (n *Node) SetLendingPoolStatus(ctx context.Context, caller, asset common.Address, status lending.PoolStatus) error {
	return n.atomic(ctx, moduleLending, "set_status", func(e *engines) error {
		return e.lending.SetStatus(caller, asset, status)
	})
}

func (n *Node) SetLendingPoolConfig(ctx context.Context, caller, asset common.Address, cfg lending.PoolConfig) error {
	return n.atomic(ctx, moduleLending, "set_config", func(e *engines) error {
		return e.lending.SetPoolConfig(caller, asset, cfg)
	})
}

// SetPriceOracle selects the oracle variant lending values accounts with.
func (n *Node) SetPriceOracle(ctx context.Context, caller common.Address, kind oracle.Kind) error {
	return n.atomic(ctx, moduleLending, "set_oracle", func(e *engines) error {
		return e.lending.SetPriceOracle(caller, kind)
	})
}

// BootstrapLendingPool initialises and activates asset's pool as the admin.
// Existing pools keep their stored configuration, so repeated boots are
// harmless.
func (n *Node) BootstrapLendingPool(ctx context.Context, asset common.Address, cfg lending.PoolConfig) error {
	return n.atomic(ctx, moduleLending, "bootstrap_pool", func(e *engines) error {
		if _, err := e.lending.InitPool(n.admin, asset, cfg); err != nil {
			if errors.Is(err, lending.ErrPoolExists) {
				return nil
			}
			return err
		}
		return e.lending.SetStatus(n.admin, asset, lending.PoolActive)
	})
}

// Deposit supplies amount of asset; the user must have approved the lending
// address.
func (n *Node) Deposit(ctx context.Context, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	return n.lendingCall(ctx, "deposit", asset, func(e *lending.Engine) (*big.Int, error) {
		return e.Deposit(user, asset, amount)
	})
}

func (n *Node) WithdrawByShare(ctx context.Context, user, asset common.Address, shares *big.Int) (*big.Int, error) {
	return n.lendingCall(ctx, "withdraw_by_share", asset, func(e *lending.Engine) (*big.Int, error) {
		return e.WithdrawByShare(user, asset, shares)
	})
}

func (n *Node) WithdrawByAmount(ctx context.Context, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	return n.lendingCall(ctx, "withdraw_by_amount", asset, func(e *lending.Engine) (*big.Int, error) {
		return e.WithdrawByAmount(user, asset, amount)
	})
}

func (n *Node) Borrow(ctx context.Context, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	return n.lendingCall(ctx, "borrow", asset, func(e *lending.Engine) (*big.Int, error) {
		return e.Borrow(user, asset, amount)
	})
}

func (n *Node) RepayByShare(ctx context.Context, user, asset common.Address, shares *big.Int) (*big.Int, error) {
	return n.lendingCall(ctx, "repay_by_share", asset, func(e *lending.Engine) (*big.Int, error) {
		return e.RepayByShare(user, asset, shares)
	})
}

// RepayByAmount returns the amount charged and the shares extinguished.
func (n *Node) RepayByAmount(ctx context.Context, user, asset common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	var charged, shares *big.Int
	err := n.atomic(ctx, moduleLending, "repay_by_amount", func(e *engines) error {
		var err error
		charged, shares, err = e.lending.RepayByAmount(user, asset, amount)
		return err
	})
	if err == nil {
		observability.Events().RecordLending(asset.Hex(), "repay_by_amount")
	}
	return charged, shares, err
}

func (n *Node) SetUsePoolAsCollateral(ctx context.Context, user, asset common.Address, use bool) error {
	return n.atomic(ctx, moduleLending, "set_collateral", func(e *engines) error {
		return e.lending.SetUsePoolAsCollateral(user, asset, use)
	})
}

func (n *Node) lendingCall(ctx context.Context, operation string, asset common.Address, fn func(*lending.Engine) (*big.Int, error)) (*big.Int, error) {
	var result *big.Int
	err := n.atomic(ctx, moduleLending, operation, func(e *engines) error {
		var err error
		result, err = fn(e.lending)
		return err
	})
	if err == nil {
		observability.Events().RecordLending(asset.Hex(), operation)
	}
	return result, err
}

// LendingPool returns asset's pool with interest projected to now.
func (n *Node) LendingPool(ctx context.Context, asset common.Address) (*lending.AssetPool, error) {
	var pool *lending.AssetPool
	err := n.view(ctx, moduleLending, "get_pool", func(e *engines) error {
		var err error
		pool, err = e.lending.GetPool(asset)
		return err
	})
	return pool, err
}

func (n *Node) LendingPools(ctx context.Context) ([]*lending.AssetPool, error) {
	var pools []*lending.AssetPool
	err := n.view(ctx, moduleLending, "all_pools", func(e *engines) error {
		var err error
		pools, err = e.lending.AllPools()
		return err
	})
	return pools, err
}

// PoolRates returns the WAD borrow and lending rates of asset's pool.
func (n *Node) PoolRates(ctx context.Context, asset common.Address) (*big.Int, *big.Int, error) {
	var borrowRate, lendingRate *big.Int
	err := n.view(ctx, moduleLending, "pool_rates", func(e *engines) error {
		var err error
		borrowRate, lendingRate, err = e.lending.PoolRates(asset)
		return err
	})
	return borrowRate, lendingRate, err
}

func (n *Node) UserPoolData(ctx context.Context, user, asset common.Address) (*lending.UserPosition, error) {
	var position *lending.UserPosition
	err := n.view(ctx, moduleLending, "user_pool_data", func(e *engines) error {
		var err error
		position, err = e.lending.GetUserPoolData(user, asset)
		return err
	})
	return position, err
}

func (n *Node) UserInfo(ctx context.Context, user common.Address) (*lending.UserAccount, error) {
	var account *lending.UserAccount
	err := n.view(ctx, moduleLending, "user_info", func(e *engines) error {
		var err error
		account, err = e.lending.GetUserInfo(user)
		return err
	})
	return account, err
}

func (n *Node) IsAccountHealthy(ctx context.Context, user common.Address) (bool, error) {
	var healthy bool
	err := n.view(ctx, moduleLending, "is_healthy", func(e *engines) error {
		var err error
		healthy, err = e.lending.IsAccountHealthy(user)
		return err
	})
	return healthy, err
}
