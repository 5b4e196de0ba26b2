package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddress    = ":8080"
	DefaultDataDir          = "./defi-data"
	DefaultEnvironment      = "local"
	DefaultLogLevel         = "info"
	DefaultFeeBps           = 30
	DefaultOracleKind       = "windowed"
	DefaultWindowSeconds    = 720
	DefaultGranularity      = 60
	DefaultKeeperInterval   = 30
	DefaultRequestsPerMin   = 600
	DefaultRateLimitBurst   = 60
	DefaultTelemetryAddress = "localhost:4318"
)

type Config struct {
	DataDir       string `toml:"DataDir"`
	ListenAddress string `toml:"ListenAddress"`
	// AdminAddress gates pool administration and minting.
	AdminAddress string `toml:"AdminAddress"`
	// BaseToken denominates every oracle price.
	BaseToken   string `toml:"BaseToken"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`

	AMM       AMM       `toml:"AMM"`
	Wrap      Wrap      `toml:"Wrap"`
	Oracle    Oracle    `toml:"Oracle"`
	Keeper    Keeper    `toml:"Keeper"`
	Lending   Lending   `toml:"Lending"`
	RateLimit RateLimit `toml:"RateLimit"`
	Telemetry Telemetry `toml:"Telemetry"`
	Pauses    Pauses    `toml:"Pauses"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = DefaultEnvironment
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.AMM.FeeBps == 0 {
		c.AMM.FeeBps = DefaultFeeBps
	}
	if strings.TrimSpace(c.Oracle.Kind) == "" {
		c.Oracle.Kind = DefaultOracleKind
	}
	if c.Oracle.WindowSeconds == 0 {
		c.Oracle.WindowSeconds = DefaultWindowSeconds
	}
	if c.Oracle.Granularity == 0 {
		c.Oracle.Granularity = DefaultGranularity
	}
	if c.Keeper.IntervalSeconds == 0 {
		c.Keeper.IntervalSeconds = DefaultKeeperInterval
	}
	if c.Keeper.Tokens == nil {
		c.Keeper.Tokens = []string{}
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMin
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		c.Telemetry.Endpoint = DefaultTelemetryAddress
	}
}

// createDefault creates and saves a default configuration file. Admin and
// base token are left for the operator to fill in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		AdminAddress: "0x0000000000000000000000000000000000000001",
		BaseToken:    "0x0000000000000000000000000000000000000002",
		Keeper:       Keeper{Enabled: true},
		Telemetry:    Telemetry{Insecure: true},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
