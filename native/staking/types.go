package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a reward farm: stakers deposit StakedToken and earn RewardToken at
// RewardPerSecond between StartTime and EndTime, split pro rata.
type Pool struct {
	Address         common.Address
	Creator         common.Address
	StakedToken     common.Address
	RewardToken     common.Address
	RewardPerSecond *big.Int
	StartTime       uint64
	EndTime         uint64
	LastRewardTime  uint64
	// AccRewardPerShare is the reward earned per staked unit since creation,
	// scaled by AccPrecision.
	AccRewardPerShare *big.Int
	TotalStaked       *big.Int
}

// Stake is the position of one user in one pool.
type Stake struct {
	Amount *big.Int
	// RewardDebt is the part of Amount*AccRewardPerShare already settled.
	RewardDebt *big.Int
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.RewardPerSecond = cloneBig(p.RewardPerSecond)
	clone.AccRewardPerShare = cloneBig(p.AccRewardPerShare)
	clone.TotalStaked = cloneBig(p.TotalStaked)
	return &clone
}

func (p *Pool) ensureDefaults() {
	if p.RewardPerSecond == nil {
		p.RewardPerSecond = big.NewInt(0)
	}
	if p.AccRewardPerShare == nil {
		p.AccRewardPerShare = big.NewInt(0)
	}
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
}

func (s *Stake) ensureDefaults() {
	if s.Amount == nil {
		s.Amount = big.NewInt(0)
	}
	if s.RewardDebt == nil {
		s.RewardDebt = big.NewInt(0)
	}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
