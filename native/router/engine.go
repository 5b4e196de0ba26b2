package router

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/amm"
	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
)

// ErrNoRoute is returned when no path with liquidity connects two tokens.
var ErrNoRoute = errors.New("router: no route between tokens")

var errNilExchange = errors.New("router: exchange not configured")

// Exchange is the pair registry and pair surface the router drives.
type Exchange interface {
	AllPairs() ([]*amm.Pair, error)
	GetPair(tokenA, tokenB common.Address) (*amm.Pair, error)
	CreatePair(tokenA, tokenB common.Address) (*amm.Pair, bool, error)
	QuoteOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error)
	QuoteIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error)
	SwapFunded(pair, tokenIn common.Address, amountOut *big.Int, to common.Address) error
	OptimalAmounts(pair *amm.Pair, tokenA common.Address, desiredA, desiredB *big.Int) (*big.Int, *big.Int, error)
	MintFrom(spender, owner common.Address, pair *amm.Pair, tokenA common.Address, amountA, amountB *big.Int, to common.Address) (*amm.MintResult, error)
	BurnFrom(spender, owner, tokenA, tokenB common.Address, shares *big.Int, to common.Address) (*big.Int, *big.Int, error)
}

// Router executes multi-hop swaps and liquidity management over the pair
// registry. Inputs are pulled from callers with TransferFrom, so callers must
// approve the router address first.
type Router struct {
	exchange Exchange
	ledger   bank.TransferAuthority
	address  common.Address
	nowFn    func() time.Time
}

// New constructs a router acting as spender under address.
func New(address common.Address, exchange Exchange, ledger bank.TransferAuthority) *Router {
	return &Router{exchange: exchange, ledger: ledger, address: address, nowFn: time.Now}
}

// SetClock overrides the time source used for deadline checks.
func (r *Router) SetClock(now func() time.Time) {
	if r == nil || now == nil {
		return
	}
	r.nowFn = now
}

// Address returns the spender identity of the router.
func (r *Router) Address() common.Address { return r.address }

func (r *Router) ready() error {
	if r == nil || r.exchange == nil || r.ledger == nil {
		return errNilExchange
	}
	return nil
}

func (r *Router) checkDeadline(deadline uint64) error {
	now := r.nowFn().Unix()
	if now < 0 || uint64(now) > deadline {
		return fmt.Errorf("%w: now %d, deadline %d", nativecommon.ErrDeadlineExpired, now, deadline)
	}
	return nil
}

func validatePath(path []common.Address) error {
	if len(path) < 2 {
		return nativecommon.ErrInvalidPath
	}
	for _, token := range path {
		if token == (common.Address{}) {
			return nativecommon.ErrInvalidAddress
		}
	}
	return nil
}

// Graph builds the current token graph.
func (r *Router) Graph() (*Graph, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	pairs, err := r.exchange.AllPairs()
	if err != nil {
		return nil, err
	}
	return BuildGraph(pairs), nil
}

// FindAllPaths lists every simple path between two tokens.
func (r *Router) FindAllPaths(from, to common.Address) ([][]common.Address, error) {
	g, err := r.Graph()
	if err != nil {
		return nil, err
	}
	return g.FindAllPaths(from, to), nil
}

// GetAmountsOut returns the amount at every step of path when amountIn of the
// first token is sold.
func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if err := r.ready(); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		pair, err := r.exchange.GetPair(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut, err := pair.ReservesFor(path[i])
		if err != nil {
			return nil, err
		}
		out, err := r.exchange.QuoteOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// GetAmountsIn returns the amount required at every step of path to receive
// amountOut of the last token.
func (r *Router) GetAmountsIn(amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if err := r.ready(); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		pair, err := r.exchange.GetPair(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut, err := pair.ReservesFor(path[i-1])
		if err != nil {
			return nil, err
		}
		in, err := r.exchange.QuoteIn(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		amounts[i-1] = in
	}
	return amounts, nil
}

// SwapExactIn sells exactly amountIn along path and fails unless at least
// minAmountOut of the last token reaches to.
func (r *Router) SwapExactIn(caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, to common.Address, deadline uint64) ([]*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	if minAmountOut == nil || minAmountOut.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	amounts, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	if final := amounts[len(amounts)-1]; final.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", nativecommon.ErrInsufficientLiquidity, final, minAmountOut)
	}
	if err := r.execute(caller, amounts, path, to); err != nil {
		return nil, err
	}
	return amounts, nil
}

// SwapExactOut buys exactly amountOut of the last token along path and fails if
// more than maxAmountIn of the first token would be needed.
func (r *Router) SwapExactOut(caller common.Address, amountOut, maxAmountIn *big.Int, path []common.Address, to common.Address, deadline uint64) ([]*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	if maxAmountIn == nil || maxAmountIn.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	amounts, err := r.GetAmountsIn(amountOut, path)
	if err != nil {
		return nil, err
	}
	if amounts[0].Cmp(maxAmountIn) > 0 {
		return nil, fmt.Errorf("%w: input %s exceeds maximum %s", nativecommon.ErrInsufficientLiquidity, amounts[0], maxAmountIn)
	}
	if err := r.execute(caller, amounts, path, to); err != nil {
		return nil, err
	}
	return amounts, nil
}

// execute pulls the input into the first pair and chains every hop so each
// pair pays the next one directly.
func (r *Router) execute(caller common.Address, amounts []*big.Int, path []common.Address, to common.Address) error {
	first, err := r.exchange.GetPair(path[0], path[1])
	if err != nil {
		return err
	}
	if err := r.ledger.TransferFrom(path[0], r.address, caller, first.Address, amounts[0]); err != nil {
		return err
	}
	current := first
	for i := 0; i < len(path)-1; i++ {
		recipient := to
		var next *amm.Pair
		if i < len(path)-2 {
			next, err = r.exchange.GetPair(path[i+1], path[i+2])
			if err != nil {
				return err
			}
			recipient = next.Address
		}
		if err := r.exchange.SwapFunded(current.Address, path[i], amounts[i+1], recipient); err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}
		current = next
	}
	return nil
}

// AddLiquidity deposits into the pair of tokenA and tokenB, creating it when
// missing, and mints shares to to. The deposit is reduced to the pool ratio and
// must still meet the minimums.
func (r *Router) AddLiquidity(caller, tokenA, tokenB common.Address, desiredA, desiredB, minA, minB *big.Int, to common.Address, deadline uint64) (*amm.MintResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	if desiredA == nil || desiredB == nil || desiredA.Sign() <= 0 || desiredB.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	minA, minB = orZero(minA), orZero(minB)
	if minA.Sign() < 0 || minB.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	pair, _, err := r.exchange.CreatePair(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	amountA, amountB, err := r.exchange.OptimalAmounts(pair, tokenA, desiredA, desiredB)
	if err != nil {
		return nil, err
	}
	if amountA.Cmp(minA) < 0 || amountB.Cmp(minB) < 0 {
		return nil, fmt.Errorf("%w: deposit %s/%s below minimum %s/%s", nativecommon.ErrInsufficientLiquidity, amountA, amountB, minA, minB)
	}
	return r.exchange.MintFrom(r.address, caller, pair, tokenA, amountA, amountB, to)
}

// RemoveLiquidity burns shares of caller and sends the underlying to to.
func (r *Router) RemoveLiquidity(caller, tokenA, tokenB common.Address, shares, minA, minB *big.Int, to common.Address, deadline uint64) (*big.Int, *big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, nil, err
	}
	minA, minB = orZero(minA), orZero(minB)
	if to == (common.Address{}) {
		return nil, nil, nativecommon.ErrInvalidAddress
	}
	amountA, amountB, err := r.exchange.BurnFrom(r.address, caller, tokenA, tokenB, shares, to)
	if err != nil {
		return nil, nil, err
	}
	if amountA.Cmp(minA) < 0 || amountB.Cmp(minB) < 0 {
		return nil, nil, fmt.Errorf("%w: withdrawal %s/%s below minimum %s/%s", nativecommon.ErrInsufficientLiquidity, amountA, amountB, minA, minB)
	}
	return amountA, amountB, nil
}

// GetReserves returns the reserves of the tokenA/tokenB pair in argument order.
func (r *Router) GetReserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	pair, err := r.exchange.GetPair(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	return pair.ReservesFor(tokenA)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
