package amm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
)

const moduleName = "amm"

var errNilState = errors.New("amm engine: state not configured")

// Storage abstracts the state manager methods the exchange needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Ledger moves pool assets and issues LP shares. LP shares are tokens whose
// address equals the pair address.
type Ledger interface {
	bank.TransferAuthority
	Mint(token, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
}

// Engine implements the pair registry and constant-product pair operations.
type Engine struct {
	state  Storage
	ledger Ledger
	feeBps uint64
	pauses nativecommon.PauseView
}

// NewEngine constructs an exchange engine charging feeBps on swap inputs.
func NewEngine(feeBps uint64) *Engine {
	if feeBps >= BasisPoints {
		feeBps = DefaultFeeBps
	}
	return &Engine{feeBps: feeBps}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetLedger wires the token ledger used for every transfer.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// FeeBps returns the swap fee in basis points.
func (e *Engine) FeeBps() uint64 {
	if e == nil {
		return DefaultFeeBps
	}
	return e.feeBps
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledger == nil {
		return errNilState
	}
	return nil
}

// CreatePair registers the pair for two tokens. Creating an existing pair
// returns the stored pair with created set to false.
func (e *Engine) CreatePair(tokenA, tokenB common.Address) (*Pair, bool, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, false, err
	}
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	addr, _ := PairAddress(token0, token1)
	existing, err := e.loadPair(addr)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, false, err
	}
	pair := &Pair{Address: addr, Token0: token0, Token1: token1}
	pair.ensureDefaults()
	if err := e.storePair(pair); err != nil {
		return nil, false, err
	}
	if err := e.state.KVAppend(pairIndexKey, addr.Bytes()); err != nil {
		return nil, false, err
	}
	return pair.Clone(), true, nil
}

// GetPair returns the pair for two tokens in either order.
func (e *Engine) GetPair(tokenA, tokenB common.Address) (*Pair, error) {
	addr, err := PairAddress(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	return e.Pair(addr)
}

// Pair returns the pair stored at addr.
func (e *Engine) Pair(addr common.Address) (*Pair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pair, err := e.loadPair(addr)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrPairNotFound
	}
	return pair, nil
}

// AllPairs lists every registered pair in creation order.
func (e *Engine) AllPairs() ([]*Pair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := e.state.KVGetList(pairIndexKey, &index); err != nil {
		return nil, err
	}
	pairs := make([]*Pair, 0, len(index))
	for _, raw := range index {
		pair, err := e.loadPair(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		if pair != nil {
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

// GetReserves returns the reserves ordered as (reserve of tokenA, reserve of
// tokenB).
func (e *Engine) GetReserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	pair, err := e.GetPair(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	return pair.ReservesFor(tokenA)
}

// SwapFunded releases amountOut of the counter asset to recipient, assuming the
// input has already been transferred to the pair. The fee-adjusted constant
// product must not decrease.
func (e *Engine) SwapFunded(pairAddr, tokenIn common.Address, amountOut *big.Int, to common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nativecommon.ErrInvalidAmount
	}
	pair, err := e.Pair(pairAddr)
	if err != nil {
		return err
	}
	if !pair.Has(tokenIn) {
		return ErrTokenNotInPair
	}
	tokenOut := pair.Other(tokenIn)
	if to == pair.Address || to == tokenIn || to == tokenOut {
		return nativecommon.ErrInvalidAddress
	}
	reserveIn, reserveOut, _ := pair.ReservesFor(tokenIn)
	if amountOut.Cmp(reserveOut) >= 0 {
		return fmt.Errorf("%w: output %s exceeds reserve %s", nativecommon.ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	if err := e.ledger.Transfer(tokenOut, pair.Address, to, amountOut); err != nil {
		return err
	}
	balanceIn, err := e.ledger.BalanceOf(tokenIn, pair.Address)
	if err != nil {
		return err
	}
	balanceOut, err := e.ledger.BalanceOf(tokenOut, pair.Address)
	if err != nil {
		return err
	}
	amountIn := new(big.Int).Sub(balanceIn, reserveIn)
	if amountIn.Sign() <= 0 {
		return fmt.Errorf("%w: no input received", nativecommon.ErrInvalidAmount)
	}
	if err := e.checkInvariant(reserveIn, reserveOut, balanceIn, balanceOut, amountIn); err != nil {
		return err
	}
	return e.sync(pair, tokenIn, balanceIn, balanceOut)
}

// checkInvariant enforces
// (balanceIn*B - amountIn*fee) * balanceOut*B >= reserveIn*reserveOut*B^2.
func (e *Engine) checkInvariant(reserveIn, reserveOut, balanceIn, balanceOut, amountIn *big.Int) error {
	bps := big.NewInt(BasisPoints)
	adjustedIn := new(big.Int).Mul(balanceIn, bps)
	adjustedIn.Sub(adjustedIn, new(big.Int).Mul(amountIn, new(big.Int).SetUint64(e.feeBps)))
	adjustedOut := new(big.Int).Mul(balanceOut, bps)
	after := new(big.Int).Mul(adjustedIn, adjustedOut)
	before := new(big.Int).Mul(reserveIn, reserveOut)
	before.Mul(before, new(big.Int).Mul(bps, bps))
	if after.Cmp(before) < 0 {
		return ErrInvariantViolated
	}
	return nil
}

func (e *Engine) sync(pair *Pair, tokenIn common.Address, balanceIn, balanceOut *big.Int) error {
	if tokenIn == pair.Token0 {
		pair.Reserve0, pair.Reserve1 = balanceIn, balanceOut
	} else {
		pair.Reserve0, pair.Reserve1 = balanceOut, balanceIn
	}
	return e.storePair(pair)
}

// MintFunded issues LP shares for whatever has been transferred to the pair
// beyond its reserves.
func (e *Engine) MintFunded(pairAddr, to common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	pair, err := e.Pair(pairAddr)
	if err != nil {
		return nil, err
	}
	balance0, err := e.ledger.BalanceOf(pair.Token0, pair.Address)
	if err != nil {
		return nil, err
	}
	balance1, err := e.ledger.BalanceOf(pair.Token1, pair.Address)
	if err != nil {
		return nil, err
	}
	amount0, err := ToUint256(new(big.Int).Sub(balance0, pair.Reserve0))
	if err != nil {
		return nil, err
	}
	amount1, err := ToUint256(new(big.Int).Sub(balance1, pair.Reserve1))
	if err != nil {
		return nil, err
	}
	var shares *uint256.Int
	if pair.TotalShares.Sign() == 0 {
		product, err := mul(amount0, amount1)
		if err != nil {
			return nil, err
		}
		shares = new(uint256.Int).Sqrt(product)
	} else {
		supply, err := ToUint256(pair.TotalShares)
		if err != nil {
			return nil, err
		}
		reserve0, _ := ToUint256(pair.Reserve0)
		reserve1, _ := ToUint256(pair.Reserve1)
		share0, err := mul(amount0, supply)
		if err != nil {
			return nil, err
		}
		share1, err := mul(amount1, supply)
		if err != nil {
			return nil, err
		}
		shares = minUint(share0.Div(share0, reserve0), share1.Div(share1, reserve1))
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit mints no shares", nativecommon.ErrInsufficientLiquidity)
	}
	minted := shares.ToBig()
	if err := e.ledger.Mint(pair.Address, to, minted); err != nil {
		return nil, err
	}
	pair.TotalShares = new(big.Int).Add(pair.TotalShares, minted)
	pair.Reserve0, pair.Reserve1 = balance0, balance1
	if err := e.storePair(pair); err != nil {
		return nil, err
	}
	return minted, nil
}

// BurnFunded redeems the LP shares held by the pair itself and pays the
// proportional reserves to recipient.
func (e *Engine) BurnFunded(pairAddr, to common.Address) (*big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if to == (common.Address{}) {
		return nil, nil, nativecommon.ErrInvalidAddress
	}
	pair, err := e.Pair(pairAddr)
	if err != nil {
		return nil, nil, err
	}
	shares, err := e.ledger.BalanceOf(pair.Address, pair.Address)
	if err != nil {
		return nil, nil, err
	}
	if shares.Sign() == 0 || pair.TotalShares.Sign() == 0 {
		return nil, nil, nativecommon.ErrInsufficientShares
	}
	balance0, err := e.ledger.BalanceOf(pair.Token0, pair.Address)
	if err != nil {
		return nil, nil, err
	}
	balance1, err := e.ledger.BalanceOf(pair.Token1, pair.Address)
	if err != nil {
		return nil, nil, err
	}
	amount0 := new(big.Int).Mul(shares, balance0)
	amount0.Quo(amount0, pair.TotalShares)
	amount1 := new(big.Int).Mul(shares, balance1)
	amount1.Quo(amount1, pair.TotalShares)
	if amount0.Sign() == 0 || amount1.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: burn returns nothing", nativecommon.ErrInsufficientLiquidity)
	}
	if err := e.ledger.Burn(pair.Address, pair.Address, shares); err != nil {
		return nil, nil, err
	}
	if err := e.ledger.Transfer(pair.Token0, pair.Address, to, amount0); err != nil {
		return nil, nil, err
	}
	if err := e.ledger.Transfer(pair.Token1, pair.Address, to, amount1); err != nil {
		return nil, nil, err
	}
	pair.TotalShares = new(big.Int).Sub(pair.TotalShares, shares)
	pair.Reserve0 = balance0.Sub(balance0, amount0)
	pair.Reserve1 = balance1.Sub(balance1, amount1)
	if err := e.storePair(pair); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Swap sells amountIn of tokenIn from trader into the pair and pays the output
// back to the trader.
func (e *Engine) Swap(trader, pairAddr, tokenIn common.Address, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if minAmountOut == nil || minAmountOut.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if trader == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	pair, err := e.Pair(pairAddr)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := pair.ReservesFor(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := e.QuoteOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 || out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", nativecommon.ErrInsufficientLiquidity, out, minAmountOut)
	}
	if err := e.ledger.TransferFrom(tokenIn, trader, trader, pair.Address, amountIn); err != nil {
		return nil, err
	}
	if err := e.SwapFunded(pair.Address, tokenIn, out, trader); err != nil {
		return nil, err
	}
	return out, nil
}

// QuoteOut applies GetAmountOut with the engine fee to big integer inputs.
func (e *Engine) QuoteOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	in, err := ToUint256(amountIn)
	if err != nil {
		return nil, err
	}
	rIn, err := ToUint256(reserveIn)
	if err != nil {
		return nil, err
	}
	rOut, err := ToUint256(reserveOut)
	if err != nil {
		return nil, err
	}
	out, err := GetAmountOut(in, rIn, rOut, e.FeeBps())
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

// QuoteIn applies GetAmountIn with the engine fee to big integer inputs.
func (e *Engine) QuoteIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	out, err := ToUint256(amountOut)
	if err != nil {
		return nil, err
	}
	rIn, err := ToUint256(reserveIn)
	if err != nil {
		return nil, err
	}
	rOut, err := ToUint256(reserveOut)
	if err != nil {
		return nil, err
	}
	in, err := GetAmountIn(out, rIn, rOut, e.FeeBps())
	if err != nil {
		return nil, err
	}
	return in.ToBig(), nil
}

// MintResult reports the amounts actually pulled from the provider.
type MintResult struct {
	Pair    common.Address
	Shares  *big.Int
	AmountA *big.Int
	AmountB *big.Int
}

// OptimalAmounts returns the largest deposit not exceeding the desired amounts
// that matches the pool ratio. Empty pools accept the desired amounts as is.
func (e *Engine) OptimalAmounts(pair *Pair, tokenA common.Address, desiredA, desiredB *big.Int) (*big.Int, *big.Int, error) {
	reserveA, reserveB, err := pair.ReservesFor(tokenA)
	if err != nil {
		return nil, nil, err
	}
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return cloneBig(desiredA), cloneBig(desiredB), nil
	}
	a, err := ToUint256(desiredA)
	if err != nil {
		return nil, nil, err
	}
	b, err := ToUint256(desiredB)
	if err != nil {
		return nil, nil, err
	}
	rA, _ := ToUint256(reserveA)
	rB, _ := ToUint256(reserveB)
	optimalB, err := Quote(a, rA, rB)
	if err != nil {
		return nil, nil, err
	}
	if optimalB.Cmp(b) <= 0 {
		return a.ToBig(), optimalB.ToBig(), nil
	}
	optimalA, err := Quote(b, rB, rA)
	if err != nil {
		return nil, nil, err
	}
	return optimalA.ToBig(), b.ToBig(), nil
}

// Mint deposits liquidity for provider into the existing pair of tokenA and
// tokenB. Only the proportional part of the desired amounts is taken.
func (e *Engine) Mint(provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) (*MintResult, error) {
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if provider == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	pair, err := e.GetPair(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	useA, useB, err := e.OptimalAmounts(pair, tokenA, amountA, amountB)
	if err != nil {
		return nil, err
	}
	return e.MintFrom(provider, provider, pair, tokenA, useA, useB, provider)
}

// MintFrom pulls the exact amounts from owner via spender and mints shares to
// recipient.
func (e *Engine) MintFrom(spender, owner common.Address, pair *Pair, tokenA common.Address, amountA, amountB *big.Int, to common.Address) (*MintResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	tokenB := pair.Other(tokenA)
	if err := e.ledger.TransferFrom(tokenA, spender, owner, pair.Address, amountA); err != nil {
		return nil, err
	}
	if err := e.ledger.TransferFrom(tokenB, spender, owner, pair.Address, amountB); err != nil {
		return nil, err
	}
	shares, err := e.MintFunded(pair.Address, to)
	if err != nil {
		return nil, err
	}
	return &MintResult{Pair: pair.Address, Shares: shares, AmountA: cloneBig(amountA), AmountB: cloneBig(amountB)}, nil
}

// Burn redeems shares held by owner for the underlying reserves, returned in
// the order (tokenA, tokenB).
func (e *Engine) Burn(owner, tokenA, tokenB common.Address, shares *big.Int) (*big.Int, *big.Int, error) {
	return e.BurnFrom(owner, owner, tokenA, tokenB, shares, owner)
}

// BurnFrom moves shares from owner to the pair via spender, burns them and
// pays recipient.
func (e *Engine) BurnFrom(spender, owner, tokenA, tokenB common.Address, shares *big.Int, to common.Address) (*big.Int, *big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, nativecommon.ErrInvalidAmount
	}
	pair, err := e.GetPair(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	held, err := e.ledger.BalanceOf(pair.Address, owner)
	if err != nil {
		return nil, nil, err
	}
	if held.Cmp(shares) < 0 {
		return nil, nil, fmt.Errorf("%w: holding %s, burning %s", nativecommon.ErrInsufficientShares, held, shares)
	}
	if err := e.ledger.TransferFrom(pair.Address, spender, owner, pair.Address, shares); err != nil {
		return nil, nil, err
	}
	amount0, amount1, err := e.BurnFunded(pair.Address, to)
	if err != nil {
		return nil, nil, err
	}
	if tokenA == pair.Token0 {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}

func (e *Engine) loadPair(addr common.Address) (*Pair, error) {
	var pair Pair
	ok, err := e.state.KVGet(pairKey(addr), &pair)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	pair.ensureDefaults()
	return &pair, nil
}

func (e *Engine) storePair(pair *Pair) error {
	if pair == nil {
		return errNilState
	}
	pair.ensureDefaults()
	return e.state.KVPut(pairKey(pair.Address), pair)
}
