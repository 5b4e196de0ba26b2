package oracle

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "defiapps/native/common"
)

// WAD is the fixed-point scale of every reported price.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// ErrBaseTokenRequired is returned when an update names a pair that does not
// include the base token.
var ErrBaseTokenRequired = fmt.Errorf("%w: pair must include the base token", nativecommon.ErrValidation)

// PriceOracle reports token prices denominated in the base token, scaled by
// WAD.
type PriceOracle interface {
	Base() common.Address
	PriceInBase(token common.Address) (*big.Int, error)
}

// ReserveSource exposes pair reserves in argument order.
type ReserveSource interface {
	GetReserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, error)
}

// Kind selects the oracle variant used for lending valuation.
type Kind uint8

const (
	KindSpot Kind = iota
	KindWindowed
)

func (k Kind) String() string {
	switch k {
	case KindSpot:
		return "spot"
	case KindWindowed:
		return "windowed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "spot":
		return KindSpot, nil
	case "windowed", "twap":
		return KindWindowed, nil
	default:
		return 0, fmt.Errorf("%w: unknown oracle kind %q", nativecommon.ErrInvalidConfig, raw)
	}
}

// Spot prices a token from the instantaneous reserves of its pair with the
// base token. It reflects any swap immediately.
type Spot struct {
	base  common.Address
	pairs ReserveSource
}

// NewSpot constructs a spot oracle over the given reserves.
func NewSpot(base common.Address, pairs ReserveSource) *Spot {
	return &Spot{base: base, pairs: pairs}
}

func (s *Spot) Base() common.Address { return s.base }

// PriceInBase returns reserveBase*WAD/reserveToken.
func (s *Spot) PriceInBase(token common.Address) (*big.Int, error) {
	if token == s.base {
		return new(big.Int).Set(WAD), nil
	}
	if s.pairs == nil {
		return nil, fmt.Errorf("oracle: reserve source not configured")
	}
	reserveToken, reserveBase, err := s.pairs.GetReserves(token, s.base)
	if err != nil {
		return nil, err
	}
	if reserveToken.Sign() == 0 || reserveBase.Sign() == 0 {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	price := new(big.Int).Mul(reserveBase, WAD)
	return price.Quo(price, reserveToken), nil
}
