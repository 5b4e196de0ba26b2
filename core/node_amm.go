package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/amm"
	"defiapps/native/router"
	"defiapps/observability"
)

// CreatePair registers the pair for tokenA and tokenB, returning the existing
// pair when it is already known.
func (n *Node) CreatePair(ctx context.Context, tokenA, tokenB common.Address) (*amm.Pair, error) {
	var pair *amm.Pair
	err := n.atomic(ctx, moduleAMM, "create_pair", func(e *engines) error {
		var created bool
		var err error
		pair, created, err = e.exchange.CreatePair(tokenA, tokenB)
		if err == nil && created {
			n.logger.Info("pair created",
				"pair", pair.Address.Hex(),
				"token0", pair.Token0.Hex(),
				"token1", pair.Token1.Hex())
		}
		return err
	})
	return pair, err
}

func (n *Node) Pairs(ctx context.Context) ([]*amm.Pair, error) {
	var pairs []*amm.Pair
	err := n.view(ctx, moduleAMM, "all_pairs", func(e *engines) error {
		var err error
		pairs, err = e.exchange.AllPairs()
		return err
	})
	return pairs, err
}

func (n *Node) Pair(ctx context.Context, tokenA, tokenB common.Address) (*amm.Pair, error) {
	var pair *amm.Pair
	err := n.view(ctx, moduleAMM, "get_pair", func(e *engines) error {
		var err error
		pair, err = e.exchange.GetPair(tokenA, tokenB)
		return err
	})
	return pair, err
}

// Reserves returns the reserves of the pair ordered as the arguments.
func (n *Node) Reserves(ctx context.Context, tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	var reserveA, reserveB *big.Int
	err := n.view(ctx, moduleAMM, "get_reserves", func(e *engines) error {
		var err error
		reserveA, reserveB, err = e.exchange.GetReserves(tokenA, tokenB)
		return err
	})
	return reserveA, reserveB, err
}

// Swap trades directly against the pair of tokenIn and tokenOut.
func (n *Node) Swap(ctx context.Context, trader, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	var out *big.Int
	err := n.atomic(ctx, moduleAMM, "swap", func(e *engines) error {
		pair, err := e.exchange.GetPair(tokenIn, tokenOut)
		if err != nil {
			return err
		}
		out, err = e.exchange.Swap(trader, pair.Address, tokenIn, amountIn, minAmountOut)
		return err
	})
	if err == nil {
		observability.Events().RecordSwap(1)
	}
	return out, err
}

// MintLiquidity deposits into the pair of tokenA and tokenB, pulling only the
// proportional amounts.
func (n *Node) MintLiquidity(ctx context.Context, provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) (*amm.MintResult, error) {
	var result *amm.MintResult
	err := n.atomic(ctx, moduleAMM, "mint", func(e *engines) error {
		var err error
		result, err = e.exchange.Mint(provider, tokenA, tokenB, amountA, amountB)
		return err
	})
	if err == nil {
		observability.Events().RecordLiquidity("add")
	}
	return result, err
}

// BurnLiquidity redeems LP shares held by owner.
func (n *Node) BurnLiquidity(ctx context.Context, owner, tokenA, tokenB common.Address, shares *big.Int) (*big.Int, *big.Int, error) {
	var amountA, amountB *big.Int
	err := n.atomic(ctx, moduleAMM, "burn", func(e *engines) error {
		var err error
		amountA, amountB, err = e.exchange.Burn(owner, tokenA, tokenB, shares)
		return err
	})
	if err == nil {
		observability.Events().RecordLiquidity("remove")
	}
	return amountA, amountB, err
}

// FindAllPaths lists every simple token path between from and to.
func (n *Node) FindAllPaths(ctx context.Context, from, to common.Address) ([][]common.Address, error) {
	var paths [][]common.Address
	err := n.view(ctx, moduleRouter, "find_paths", func(e *engines) error {
		var err error
		paths, err = e.router.FindAllPaths(from, to)
		return err
	})
	return paths, err
}

func (n *Node) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var amounts []*big.Int
	err := n.view(ctx, moduleRouter, "amounts_out", func(e *engines) error {
		var err error
		amounts, err = e.router.GetAmountsOut(amountIn, path)
		return err
	})
	return amounts, err
}

func (n *Node) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	var amounts []*big.Int
	err := n.view(ctx, moduleRouter, "amounts_in", func(e *engines) error {
		var err error
		amounts, err = e.router.GetAmountsIn(amountOut, path)
		return err
	})
	return amounts, err
}

// BestQuoteOut selects the path maximising the output for amountIn.
func (n *Node) BestQuoteOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*router.Quote, error) {
	var quote *router.Quote
	err := n.view(ctx, moduleRouter, "best_quote_out", func(e *engines) error {
		var err error
		quote, err = e.router.BestQuoteOut(amountIn, from, to)
		return err
	})
	return quote, err
}

// BestQuoteIn selects the path minimising the input for amountOut.
func (n *Node) BestQuoteIn(ctx context.Context, amountOut *big.Int, from, to common.Address) (*router.Quote, error) {
	var quote *router.Quote
	err := n.view(ctx, moduleRouter, "best_quote_in", func(e *engines) error {
		var err error
		quote, err = e.router.BestQuoteIn(amountOut, from, to)
		return err
	})
	return quote, err
}

// SwapExactIn routes amountIn along path. The caller must have approved the
// router address for the input token.
func (n *Node) SwapExactIn(ctx context.Context, caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, to common.Address, deadline uint64) ([]*big.Int, error) {
	var amounts []*big.Int
	err := n.atomic(ctx, moduleRouter, "swap_exact_in", func(e *engines) error {
		var err error
		amounts, err = e.router.SwapExactIn(caller, amountIn, minAmountOut, path, to, deadline)
		return err
	})
	if err == nil {
		observability.Events().RecordSwap(len(path) - 1)
	}
	return amounts, err
}

// SwapExactOut routes along path to receive exactly amountOut.
func (n *Node) SwapExactOut(ctx context.Context, caller common.Address, amountOut, maxAmountIn *big.Int, path []common.Address, to common.Address, deadline uint64) ([]*big.Int, error) {
	var amounts []*big.Int
	err := n.atomic(ctx, moduleRouter, "swap_exact_out", func(e *engines) error {
		var err error
		amounts, err = e.router.SwapExactOut(caller, amountOut, maxAmountIn, path, to, deadline)
		return err
	})
	if err == nil {
		observability.Events().RecordSwap(len(path) - 1)
	}
	return amounts, err
}

// AddLiquidity creates the pair when missing and deposits within the
// caller's bounds.
func (n *Node) AddLiquidity(ctx context.Context, caller, tokenA, tokenB common.Address, desiredA, desiredB, minA, minB *big.Int, to common.Address, deadline uint64) (*amm.MintResult, error) {
	var result *amm.MintResult
	err := n.atomic(ctx, moduleRouter, "add_liquidity", func(e *engines) error {
		var err error
		result, err = e.router.AddLiquidity(caller, tokenA, tokenB, desiredA, desiredB, minA, minB, to, deadline)
		return err
	})
	if err == nil {
		observability.Events().RecordLiquidity("add")
	}
	return result, err
}

// RemoveLiquidity burns LP shares through the router. The caller must have
// approved the router for the pair token.
func (n *Node) RemoveLiquidity(ctx context.Context, caller, tokenA, tokenB common.Address, shares, minA, minB *big.Int, to common.Address, deadline uint64) (*big.Int, *big.Int, error) {
	var amountA, amountB *big.Int
	err := n.atomic(ctx, moduleRouter, "remove_liquidity", func(e *engines) error {
		var err error
		amountA, amountB, err = e.router.RemoveLiquidity(caller, tokenA, tokenB, shares, minA, minB, to, deadline)
		return err
	})
	if err == nil {
		observability.Events().RecordLiquidity("remove")
	}
	return amountA, amountB, err
}
