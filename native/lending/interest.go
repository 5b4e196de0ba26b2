package lending

import "math/big"

// InterestModel encapsulates the parameters that shape how interest rates react
// to pool utilisation.
type InterestModel struct {
	// BaseRate is the borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// OptimalUtilisation is the kink where the curve switches slopes.
	OptimalUtilisation *big.Rat
	// SlopeBelowOptimal is the APR added while utilisation climbs from zero to
	// the kink.
	SlopeBelowOptimal *big.Rat
	// SlopeAboveOptimal is the APR added while utilisation climbs from the kink
	// to full.
	SlopeAboveOptimal *big.Rat
}

// NewInterestModel derives the rate model from a pool configuration.
func NewInterestModel(cfg PoolConfig) *InterestModel {
	return &InterestModel{
		BaseRate:           wadToRat(cfg.BaseRate),
		OptimalUtilisation: wadToRat(cfg.OptimalUtilization),
		SlopeBelowOptimal:  wadToRat(cfg.SlopeBelowOptimal),
		SlopeAboveOptimal:  wadToRat(cfg.SlopeAboveOptimal),
	}
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate:           cloneRat(m.BaseRate),
		OptimalUtilisation: cloneRat(m.OptimalUtilisation),
		SlopeBelowOptimal:  cloneRat(m.SlopeBelowOptimal),
		SlopeAboveOptimal:  cloneRat(m.SlopeAboveOptimal),
	}
}

// Utilisation computes the pool utilisation ratio U = totalBorrowed /
// totalSupplied. When no liquidity exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
}

// BorrowRate maps utilisation to the annual borrow rate.
func (m *InterestModel) BorrowRate(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() <= 0 {
		return rate
	}
	optimal := cloneRat(m.OptimalUtilisation)
	if optimal.Sign() == 0 {
		return rate
	}
	if utilisation.Cmp(optimal) <= 0 {
		// Linear region before the kink.
		scaled := new(big.Rat).Quo(utilisation, optimal)
		return rate.Add(rate, scaled.Mul(scaled, cloneRat(m.SlopeBelowOptimal)))
	}

	// Full lower slope plus the excess share of the upper slope.
	rate.Add(rate, cloneRat(m.SlopeBelowOptimal))
	excess := new(big.Rat).Sub(utilisation, optimal)
	span := new(big.Rat).Sub(big.NewRat(1, 1), optimal)
	if span.Sign() <= 0 {
		return rate
	}
	excess.Quo(excess, span)
	return rate.Add(rate, excess.Mul(excess, cloneRat(m.SlopeAboveOptimal)))
}

// Rates returns the borrow and lending rates for a utilisation. Lenders earn
// the borrow rate scaled by utilisation.
func (m *InterestModel) Rates(utilisation *big.Rat) (borrowRate, lendingRate *big.Rat) {
	borrowRate = m.BorrowRate(utilisation)
	if utilisation == nil || utilisation.Sign() <= 0 {
		return borrowRate, new(big.Rat)
	}
	lendingRate = new(big.Rat).Mul(borrowRate, utilisation)
	return borrowRate, lendingRate
}

// PoolRates evaluates the model at the current state of pool.
func (m *InterestModel) PoolRates(pool *AssetPool) (borrowRate, lendingRate *big.Rat) {
	return m.Rates(m.Utilisation(pool.TotalBorrows, pool.TotalLiquidity))
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

func wadToRat(v *big.Int) *big.Rat {
	if v == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(v, wad)
}

// RatToWad converts a rate to WAD fixed point, rounding down.
func RatToWad(r *big.Rat) *big.Int {
	if r == nil || r.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
