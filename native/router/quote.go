package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Quote describes the best route found for a trade.
type Quote struct {
	Path    []common.Address
	Amounts []*big.Int
	// PriceImpactBps is the shortfall of the execution price against the
	// path's mid price, fee included, in basis points.
	PriceImpactBps uint64
}

// AmountIn returns the input of the quoted trade.
func (q *Quote) AmountIn() *big.Int { return q.Amounts[0] }

// AmountOut returns the output of the quoted trade.
func (q *Quote) AmountOut() *big.Int { return q.Amounts[len(q.Amounts)-1] }

// BestQuoteOut evaluates every path between two tokens and returns the one
// paying the most for amountIn. Paths without liquidity are skipped.
func (r *Router) BestQuoteOut(amountIn *big.Int, from, to common.Address) (*Quote, error) {
	paths, err := r.FindAllPaths(from, to)
	if err != nil {
		return nil, err
	}
	var best *Quote
	for _, path := range paths {
		amounts, err := r.GetAmountsOut(amountIn, path)
		if err != nil {
			continue
		}
		if best == nil || amounts[len(amounts)-1].Cmp(best.AmountOut()) > 0 {
			best = &Quote{Path: path, Amounts: amounts}
		}
	}
	if best == nil {
		return nil, ErrNoRoute
	}
	if err := r.fillPriceImpact(best); err != nil {
		return nil, err
	}
	return best, nil
}

// BestQuoteIn evaluates every path between two tokens and returns the one that
// needs the least input to deliver amountOut.
func (r *Router) BestQuoteIn(amountOut *big.Int, from, to common.Address) (*Quote, error) {
	paths, err := r.FindAllPaths(from, to)
	if err != nil {
		return nil, err
	}
	var best *Quote
	for _, path := range paths {
		amounts, err := r.GetAmountsIn(amountOut, path)
		if err != nil {
			continue
		}
		if best == nil || amounts[0].Cmp(best.AmountIn()) < 0 {
			best = &Quote{Path: path, Amounts: amounts}
		}
	}
	if best == nil {
		return nil, ErrNoRoute
	}
	if err := r.fillPriceImpact(best); err != nil {
		return nil, err
	}
	return best, nil
}

func (r *Router) fillPriceImpact(q *Quote) error {
	mid := new(big.Rat).SetInt(q.AmountIn())
	for i := 0; i < len(q.Path)-1; i++ {
		pair, err := r.exchange.GetPair(q.Path[i], q.Path[i+1])
		if err != nil {
			return err
		}
		reserveIn, reserveOut, err := pair.ReservesFor(q.Path[i])
		if err != nil {
			return err
		}
		mid.Mul(mid, new(big.Rat).SetFrac(reserveOut, reserveIn))
	}
	if mid.Sign() == 0 {
		return nil
	}
	actual := new(big.Rat).SetInt(q.AmountOut())
	shortfall := new(big.Rat).Sub(mid, actual)
	if shortfall.Sign() <= 0 {
		q.PriceImpactBps = 0
		return nil
	}
	shortfall.Quo(shortfall, mid)
	shortfall.Mul(shortfall, big.NewRat(10_000, 1))
	q.PriceImpactBps = new(big.Int).Quo(shortfall.Num(), shortfall.Denom()).Uint64()
	return nil
}
