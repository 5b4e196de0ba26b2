package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/lending"
	"defiapps/native/oracle"
	"defiapps/observability/logging"
)

// Validate checks the decoded configuration without touching any state.
func (c *Config) Validate() error {
	if _, err := ParseAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("AdminAddress: %w", err)
	}
	if _, err := ParseAddress(c.BaseToken); err != nil {
		return fmt.Errorf("BaseToken: %w", err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LogLevel: %w", err)
	}
	if c.AMM.FeeBps >= 10_000 {
		return fmt.Errorf("AMM.FeeBps: %d must be below 10000", c.AMM.FeeBps)
	}
	if _, _, err := c.Wrap.Parse(); err != nil {
		return fmt.Errorf("Wrap: %w", err)
	}
	if _, err := oracle.ParseKind(c.Oracle.Kind); err != nil {
		return fmt.Errorf("Oracle.Kind: %w", err)
	}
	if c.Oracle.Granularity < 2 || c.Oracle.WindowSeconds%c.Oracle.Granularity != 0 {
		return fmt.Errorf("Oracle: window %d must be a multiple of granularity %d (at least 2)", c.Oracle.WindowSeconds, c.Oracle.Granularity)
	}
	for i, token := range c.Keeper.Tokens {
		if _, err := ParseAddress(token); err != nil {
			return fmt.Errorf("Keeper.Tokens[%d]: %w", i, err)
		}
	}
	seen := make(map[common.Address]struct{}, len(c.Lending.Pools))
	for i, pool := range c.Lending.Pools {
		asset, _, err := pool.Parse()
		if err != nil {
			return fmt.Errorf("Lending.Pools[%d]: %w", i, err)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("Lending.Pools[%d]: duplicate asset %s", i, asset.Hex())
		}
		seen[asset] = struct{}{}
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("RateLimit: negative limits")
	}
	return nil
}

// ParseAddress parses a 0x-prefixed hex address, rejecting the zero address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

// Parse returns the native and wrapped token addresses, or zero addresses
// when wrapping is off.
func (w Wrap) Parse() (common.Address, common.Address, error) {
	if w.NativeToken == "" && w.WrappedToken == "" {
		return common.Address{}, common.Address{}, nil
	}
	native, err := ParseAddress(w.NativeToken)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("NativeToken: %w", err)
	}
	wrapped, err := ParseAddress(w.WrappedToken)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("WrappedToken: %w", err)
	}
	if native == wrapped {
		return common.Address{}, common.Address{}, fmt.Errorf("native and wrapped token are identical")
	}
	return native, wrapped, nil
}

// Parse converts the decimal parameters into a pool configuration.
func (p LendingPool) Parse() (common.Address, lending.PoolConfig, error) {
	asset, err := ParseAddress(p.Asset)
	if err != nil {
		return common.Address{}, lending.PoolConfig{}, fmt.Errorf("Asset: %w", err)
	}
	cfg, err := lending.ParsePoolConfig(p.BaseRate, p.OptimalUtilization, p.SlopeBelowOptimal, p.SlopeAboveOptimal, p.CollateralFactor, p.LiquidationBonus)
	if err != nil {
		return common.Address{}, lending.PoolConfig{}, err
	}
	return asset, cfg, nil
}
