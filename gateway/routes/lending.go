package routes

import (
	"context"
	"net/http"

	"defiapps/native/lending"
)

type poolConfigView struct {
	BaseRate           string `json:"baseRate"`
	OptimalUtilization string `json:"optimalUtilization"`
	SlopeBelowOptimal  string `json:"slopeBelowOptimal"`
	SlopeAboveOptimal  string `json:"slopeAboveOptimal"`
	CollateralFactor   string `json:"collateralFactor"`
	LiquidationBonus   string `json:"liquidationBonus"`
}

type lendingPoolView struct {
	Asset                string         `json:"asset"`
	Status               string         `json:"status"`
	TotalLiquidity       string         `json:"totalLiquidity"`
	TotalLiquidityShares string         `json:"totalLiquidityShares"`
	TotalBorrows         string         `json:"totalBorrows"`
	TotalBorrowShares    string         `json:"totalBorrowShares"`
	AvailableLiquidity   string         `json:"availableLiquidity"`
	Utilisation          string         `json:"utilisation"`
	LiquidityIndex       string         `json:"liquidityIndex"`
	BorrowIndex          string         `json:"borrowIndex"`
	BorrowRate           string         `json:"borrowRate"`
	LendingRate          string         `json:"lendingRate"`
	LastAccrual          uint64         `json:"lastAccrual"`
	Config               poolConfigView `json:"config"`
}

type positionView struct {
	Asset               string `json:"asset"`
	LiquidityShares     string `json:"liquidityShares"`
	BorrowShares        string `json:"borrowShares"`
	Liquidity           string `json:"liquidity"`
	Debt                string `json:"debt"`
	UsePoolAsCollateral bool   `json:"usePoolAsCollateral"`
}

type accountView struct {
	Address              string         `json:"address"`
	TotalCollateralValue string         `json:"totalCollateralValue"`
	TotalBorrowedValue   string         `json:"totalBorrowedValue"`
	HealthFactor         string         `json:"healthFactor,omitempty"`
	Healthy              bool           `json:"healthy"`
	Positions            []positionView `json:"positions"`
}

func newPositionView(p *lending.UserPosition) positionView {
	return positionView{
		Asset:               p.Asset.Hex(),
		LiquidityShares:     decimal(p.LiquidityShares),
		BorrowShares:        decimal(p.BorrowShares),
		Liquidity:           decimal(p.Liquidity),
		Debt:                decimal(p.Debt),
		UsePoolAsCollateral: p.UsePoolAsCollateral,
	}
}

func (h *handlers) lendingPoolView(ctx context.Context, pool *lending.AssetPool) (lendingPoolView, error) {
	borrowRate, lendingRate, err := h.node.PoolRates(ctx, pool.Asset)
	if err != nil {
		return lendingPoolView{}, err
	}
	return lendingPoolView{
		Asset:                pool.Asset.Hex(),
		Status:               pool.Status.String(),
		TotalLiquidity:       decimal(pool.TotalLiquidity),
		TotalLiquidityShares: decimal(pool.TotalLiquidityShares),
		TotalBorrows:         decimal(pool.TotalBorrows),
		TotalBorrowShares:    decimal(pool.TotalBorrowShares),
		AvailableLiquidity:   decimal(pool.AvailableLiquidity()),
		Utilisation:          pool.Utilisation().FloatString(6),
		LiquidityIndex:       decimal(pool.LiquidityIndex),
		BorrowIndex:          decimal(pool.BorrowIndex),
		BorrowRate:           decimal(borrowRate),
		LendingRate:          decimal(lendingRate),
		LastAccrual:          pool.LastAccrual,
		Config: poolConfigView{
			BaseRate:           decimal(pool.Config.BaseRate),
			OptimalUtilization: decimal(pool.Config.OptimalUtilization),
			SlopeBelowOptimal:  decimal(pool.Config.SlopeBelowOptimal),
			SlopeAboveOptimal:  decimal(pool.Config.SlopeAboveOptimal),
			CollateralFactor:   decimal(pool.Config.CollateralFactor),
			LiquidationBonus:   decimal(pool.Config.LiquidationBonus),
		},
	}, nil
}

func (h *handlers) listLendingPools(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()

	pools, err := h.node.LendingPools(ctx)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	views := make([]lendingPoolView, 0, len(pools))
	for _, pool := range pools {
		view, err := h.lendingPoolView(ctx, pool)
		if err != nil {
			writeNodeError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": views})
}

func (h *handlers) getLendingPool(w http.ResponseWriter, r *http.Request) {
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	pool, err := h.node.LendingPool(ctx, asset)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	view, err := h.lendingPoolView(ctx, pool)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	account, err := h.node.UserInfo(ctx, user)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	view := accountView{
		Address:              account.Address.Hex(),
		TotalCollateralValue: decimal(account.TotalCollateralValue),
		TotalBorrowedValue:   decimal(account.TotalBorrowedValue),
		Healthy:              account.TotalCollateralValue.Cmp(account.TotalBorrowedValue) >= 0,
		Positions:            make([]positionView, 0, len(account.Positions)),
	}
	if account.HealthFactor != nil {
		view.HealthFactor = account.HealthFactor.String()
	}
	for i := range account.Positions {
		view.Positions = append(view.Positions, newPositionView(&account.Positions[i]))
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	position, err := h.node.UserPoolData(ctx, user, asset)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(position))
}
