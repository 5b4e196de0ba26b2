package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/staking"
)

// CreateStakingPool registers a farm paying rewardPerSecond of rewardToken to
// stakers of stakedToken between start and end.
func (n *Node) CreateStakingPool(ctx context.Context, creator, stakedToken, rewardToken common.Address, rewardPerSecond *big.Int, start, end uint64) (*staking.Pool, error) {
	var pool *staking.Pool
	err := n.atomic(ctx, moduleStaking, "create_pool", func(e *engines) error {
		var err error
		pool, err = e.staking.CreatePool(creator, stakedToken, rewardToken, rewardPerSecond, start, end)
		return err
	})
	return pool, err
}

// Stake deposits into a farm and returns the reward harvested on the way.
func (n *Node) Stake(ctx context.Context, user, pool common.Address, amount *big.Int) (*big.Int, error) {
	var reward *big.Int
	err := n.atomic(ctx, moduleStaking, "deposit", func(e *engines) error {
		var err error
		reward, err = e.staking.Deposit(user, pool, amount)
		return err
	})
	return reward, err
}

// Unstake withdraws from a farm and returns the reward harvested on the way.
func (n *Node) Unstake(ctx context.Context, user, pool common.Address, amount *big.Int) (*big.Int, error) {
	var reward *big.Int
	err := n.atomic(ctx, moduleStaking, "withdraw", func(e *engines) error {
		var err error
		reward, err = e.staking.Withdraw(user, pool, amount)
		return err
	})
	return reward, err
}

// EmergencyUnstake returns the whole stake without harvesting.
func (n *Node) EmergencyUnstake(ctx context.Context, user, pool common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.atomic(ctx, moduleStaking, "emergency_withdraw", func(e *engines) error {
		var err error
		amount, err = e.staking.EmergencyWithdraw(user, pool)
		return err
	})
	return amount, err
}

func (n *Node) PendingReward(ctx context.Context, user, pool common.Address) (*big.Int, error) {
	var reward *big.Int
	err := n.view(ctx, moduleStaking, "pending_reward", func(e *engines) error {
		var err error
		reward, err = e.staking.PendingReward(user, pool)
		return err
	})
	return reward, err
}

func (n *Node) StakingPools(ctx context.Context) ([]*staking.Pool, error) {
	var pools []*staking.Pool
	err := n.view(ctx, moduleStaking, "all_pools", func(e *engines) error {
		var err error
		pools, err = e.staking.AllPools()
		return err
	})
	return pools, err
}
