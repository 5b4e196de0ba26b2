package routes

import (
	"net/http"

	"defiapps/native/staking"
)

type stakingPoolView struct {
	Address           string `json:"address"`
	Creator           string `json:"creator"`
	StakedToken       string `json:"stakedToken"`
	RewardToken       string `json:"rewardToken"`
	RewardPerSecond   string `json:"rewardPerSecond"`
	StartTime         uint64 `json:"startTime"`
	EndTime           uint64 `json:"endTime"`
	LastRewardTime    uint64 `json:"lastRewardTime"`
	AccRewardPerShare string `json:"accRewardPerShare"`
	TotalStaked       string `json:"totalStaked"`
}

func newStakingPoolView(p *staking.Pool) stakingPoolView {
	return stakingPoolView{
		Address:           p.Address.Hex(),
		Creator:           p.Creator.Hex(),
		StakedToken:       p.StakedToken.Hex(),
		RewardToken:       p.RewardToken.Hex(),
		RewardPerSecond:   decimal(p.RewardPerSecond),
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		LastRewardTime:    p.LastRewardTime,
		AccRewardPerShare: decimal(p.AccRewardPerShare),
		TotalStaked:       decimal(p.TotalStaked),
	}
}

func (h *handlers) listStakingPools(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()

	pools, err := h.node.StakingPools(ctx)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	views := make([]stakingPoolView, 0, len(pools))
	for _, pool := range pools {
		views = append(views, newStakingPoolView(pool))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": views})
}

func (h *handlers) pendingReward(w http.ResponseWriter, r *http.Request) {
	pool, err := addressParam(r, "pool")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	reward, err := h.node.PendingReward(ctx, user, pool)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":   pool.Hex(),
		"user":   user.Hex(),
		"reward": decimal(reward),
	})
}
