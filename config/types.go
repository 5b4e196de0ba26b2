package config

// AMM configures the exchange.
type AMM struct {
	// FeeBps is the swap fee in basis points.
	FeeBps uint64 `toml:"FeeBps"`
}

// Oracle configures the windowed price oracle and the variant lending starts
// with.
type Oracle struct {
	Kind          string `toml:"Kind"`
	WindowSeconds uint64 `toml:"WindowSeconds"`
	Granularity   uint64 `toml:"Granularity"`
}

// Wrap enables 1:1 wrapping of NativeToken into WrappedToken. Both stay
// empty when wrapping is off.
type Wrap struct {
	NativeToken  string `toml:"NativeToken"`
	WrappedToken string `toml:"WrappedToken"`
}

// Keeper configures the periodic oracle updater.
type Keeper struct {
	Enabled         bool   `toml:"Enabled"`
	IntervalSeconds uint64 `toml:"IntervalSeconds"`
	// ArchiveDSN selects the price archive: a postgres:// URL, a sqlite file
	// path, or empty for an in-memory sqlite database.
	ArchiveDSN string `toml:"ArchiveDSN"`
	// Tokens are sampled against the base token.
	Tokens []string `toml:"Tokens"`
}

// LendingPool describes a pool bootstrapped at start-up. Rates and factors
// are decimal fractions such as "0.8".
type LendingPool struct {
	Asset              string `toml:"Asset"`
	BaseRate           string `toml:"BaseRate"`
	OptimalUtilization string `toml:"OptimalUtilization"`
	SlopeBelowOptimal  string `toml:"SlopeBelowOptimal"`
	SlopeAboveOptimal  string `toml:"SlopeAboveOptimal"`
	CollateralFactor   string `toml:"CollateralFactor"`
	LiquidationBonus   string `toml:"LiquidationBonus"`
}

type Lending struct {
	Pools []LendingPool `toml:"Pools"`
}

// RateLimit throttles gateway clients.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers is a comma separated key=value list.
	Headers string `toml:"Headers"`
	Metrics bool   `toml:"Metrics"`
	Traces  bool   `toml:"Traces"`
}

type Pauses struct {
	AMM     bool `toml:"AMM"`
	Lending bool `toml:"Lending"`
	Staking bool `toml:"Staking"`
}

// Modules returns the pause flags keyed by module name.
func (p Pauses) Modules() map[string]bool {
	return map[string]bool{
		"amm":     p.AMM,
		"lending": p.Lending,
		"staking": p.Staking,
	}
}
