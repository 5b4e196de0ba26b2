package lending

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "defiapps/native/common"
)

// PoolConfig carries the rate curve and risk parameters of a pool. Every field
// is a WAD fixed-point fraction of 1.0.
type PoolConfig struct {
	BaseRate           *big.Int
	OptimalUtilization *big.Int
	SlopeBelowOptimal  *big.Int
	SlopeAboveOptimal  *big.Int
	CollateralFactor   *big.Int
	// LiquidationBonus is stored for liquidation logic that this module does
	// not execute.
	LiquidationBonus *big.Int
}

// Clone returns a deep copy of the configuration.
func (c PoolConfig) Clone() PoolConfig {
	return PoolConfig{
		BaseRate:           cloneBig(c.BaseRate),
		OptimalUtilization: cloneBig(c.OptimalUtilization),
		SlopeBelowOptimal:  cloneBig(c.SlopeBelowOptimal),
		SlopeAboveOptimal:  cloneBig(c.SlopeAboveOptimal),
		CollateralFactor:   cloneBig(c.CollateralFactor),
		LiquidationBonus:   cloneBig(c.LiquidationBonus),
	}
}

func (c *PoolConfig) ensureDefaults() {
	for _, field := range []**big.Int{&c.BaseRate, &c.OptimalUtilization, &c.SlopeBelowOptimal, &c.SlopeAboveOptimal, &c.CollateralFactor, &c.LiquidationBonus} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
}

// Validate checks the curve is well formed: optimal utilisation strictly
// between 0 and 1, non-negative rates, a collateral factor of at most 1 and a
// liquidation bonus of at least 1.
func (c PoolConfig) Validate() error {
	fields := map[string]*big.Int{
		"base rate":           c.BaseRate,
		"optimal utilization": c.OptimalUtilization,
		"slope below optimal": c.SlopeBelowOptimal,
		"slope above optimal": c.SlopeAboveOptimal,
		"collateral factor":   c.CollateralFactor,
		"liquidation bonus":   c.LiquidationBonus,
	}
	for name, value := range fields {
		if value == nil || value.Sign() < 0 {
			return fmt.Errorf("%w: %s must be set and non-negative", nativecommon.ErrInvalidConfig, name)
		}
	}
	if c.OptimalUtilization.Sign() == 0 || c.OptimalUtilization.Cmp(wad) >= 0 {
		return fmt.Errorf("%w: optimal utilization must be in (0, 1)", nativecommon.ErrInvalidConfig)
	}
	if c.CollateralFactor.Cmp(wad) > 0 {
		return fmt.Errorf("%w: collateral factor above 1", nativecommon.ErrInvalidConfig)
	}
	if c.LiquidationBonus.Cmp(wad) < 0 {
		return fmt.Errorf("%w: liquidation bonus below 1", nativecommon.ErrInvalidConfig)
	}
	return nil
}

// ParseFraction converts a decimal string such as "0.8" or "1.05" into a WAD
// fixed-point integer.
func ParseFraction(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty fraction", nativecommon.ErrInvalidConfig)
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid fraction %q", nativecommon.ErrInvalidConfig, raw)
	}
	r.Mul(r, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// ParsePoolConfig builds a PoolConfig from decimal strings in the order
// base rate, optimal utilization, slope below, slope above, collateral factor,
// liquidation bonus.
func ParsePoolConfig(baseRate, optimal, slopeBelow, slopeAbove, collateralFactor, liquidationBonus string) (PoolConfig, error) {
	var cfg PoolConfig
	targets := []struct {
		dst **big.Int
		raw string
	}{
		{&cfg.BaseRate, baseRate},
		{&cfg.OptimalUtilization, optimal},
		{&cfg.SlopeBelowOptimal, slopeBelow},
		{&cfg.SlopeAboveOptimal, slopeAbove},
		{&cfg.CollateralFactor, collateralFactor},
		{&cfg.LiquidationBonus, liquidationBonus},
	}
	for _, target := range targets {
		value, err := ParseFraction(target.raw)
		if err != nil {
			return PoolConfig{}, err
		}
		*target.dst = value
	}
	return cfg, cfg.Validate()
}
