package amm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "defiapps/native/common"
)

var (
	// ErrPairNotFound is returned when no pair exists for a token combination.
	ErrPairNotFound = errors.New("amm: pair not found")
	// ErrTokenNotInPair is returned when a token does not belong to the pair.
	ErrTokenNotInPair = fmt.Errorf("%w: token not in pair", nativecommon.ErrValidation)
	// ErrInvariantViolated signals that a swap would decrease the reserve product.
	ErrInvariantViolated = errors.New("amm: constant product decreased")
)

// Pair is the persisted state of a constant-product pool. Token0 always sorts
// before Token1.
type Pair struct {
	Address     common.Address
	Token0      common.Address
	Token1      common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalShares *big.Int
}

// Clone returns a deep copy of the pair.
func (p *Pair) Clone() *Pair {
	if p == nil {
		return nil
	}
	return &Pair{
		Address:     p.Address,
		Token0:      p.Token0,
		Token1:      p.Token1,
		Reserve0:    cloneBig(p.Reserve0),
		Reserve1:    cloneBig(p.Reserve1),
		TotalShares: cloneBig(p.TotalShares),
	}
}

func (p *Pair) ensureDefaults() {
	if p.Reserve0 == nil {
		p.Reserve0 = big.NewInt(0)
	}
	if p.Reserve1 == nil {
		p.Reserve1 = big.NewInt(0)
	}
	if p.TotalShares == nil {
		p.TotalShares = big.NewInt(0)
	}
}

// Has reports whether token is one of the pair's assets.
func (p *Pair) Has(token common.Address) bool {
	return p != nil && (token == p.Token0 || token == p.Token1)
}

// Other returns the counterpart of token within the pair.
func (p *Pair) Other(token common.Address) common.Address {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}

// ReservesFor returns the reserves ordered as (reserve of token, reserve of
// the other asset).
func (p *Pair) ReservesFor(token common.Address) (*big.Int, *big.Int, error) {
	switch token {
	case p.Token0:
		return cloneBig(p.Reserve0), cloneBig(p.Reserve1), nil
	case p.Token1:
		return cloneBig(p.Reserve1), cloneBig(p.Reserve0), nil
	default:
		return nil, nil, ErrTokenNotInPair
	}
}

// SortTokens orders two token addresses and rejects identical or zero inputs.
func SortTokens(a, b common.Address) (common.Address, common.Address, error) {
	if a == b {
		return common.Address{}, common.Address{}, nativecommon.ErrIdenticalTokens
	}
	if a == (common.Address{}) || b == (common.Address{}) {
		return common.Address{}, common.Address{}, nativecommon.ErrInvalidAddress
	}
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b, nil
	}
	return b, a, nil
}

// PairAddress derives the deterministic address of the pair for two tokens.
// The pair's LP share token uses the same address.
func PairAddress(a, b common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(a, b)
	if err != nil {
		return common.Address{}, err
	}
	hash := ethcrypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(hash[12:]), nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
