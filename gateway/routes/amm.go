package routes

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/amm"
	"defiapps/native/router"
)

type pairView struct {
	Address     string `json:"address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	TotalShares string `json:"totalShares"`
}

func newPairView(p *amm.Pair) pairView {
	return pairView{
		Address:     p.Address.Hex(),
		Token0:      p.Token0.Hex(),
		Token1:      p.Token1.Hex(),
		Reserve0:    decimal(p.Reserve0),
		Reserve1:    decimal(p.Reserve1),
		TotalShares: decimal(p.TotalShares),
	}
}

type quoteView struct {
	Path           []string `json:"path"`
	Amounts        []string `json:"amounts"`
	AmountIn       string   `json:"amountIn"`
	AmountOut      string   `json:"amountOut"`
	PriceImpactBps uint64   `json:"priceImpactBps"`
}

func (h *handlers) listPairs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()

	pairs, err := h.node.Pairs(ctx)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	views := make([]pairView, 0, len(pairs))
	for _, pair := range pairs {
		views = append(views, newPairView(pair))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": views})
}

func (h *handlers) getPair(w http.ResponseWriter, r *http.Request) {
	tokenA, err := addressParam(r, "tokenA")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenB, err := addressParam(r, "tokenB")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	pair, err := h.node.Pair(ctx, tokenA, tokenB)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPairView(pair))
}

func (h *handlers) findPaths(w http.ResponseWriter, r *http.Request) {
	from, to, err := tradeTokens(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	paths, err := h.node.FindAllPaths(ctx, from, to)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	views := make([][]string, 0, len(paths))
	for _, path := range paths {
		views = append(views, hexes(path))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paths": views})
}

func (h *handlers) quoteOut(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.node.BestQuoteOut)
}

func (h *handlers) quoteIn(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.node.BestQuoteIn)
}

type quoteFunc func(ctx context.Context, amount *big.Int, from, to common.Address) (*router.Quote, error)

func (h *handlers) quote(w http.ResponseWriter, r *http.Request, fn quoteFunc) {
	from, to, err := tradeTokens(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := amountQuery(r, "amount")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	quote, err := fn(ctx, amount, from, to)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteView{
		Path:           hexes(quote.Path),
		Amounts:        decimals(quote.Amounts),
		AmountIn:       decimal(quote.AmountIn()),
		AmountOut:      decimal(quote.AmountOut()),
		PriceImpactBps: quote.PriceImpactBps,
	})
}

func tradeTokens(r *http.Request) (common.Address, common.Address, error) {
	from, err := addressQuery(r, "from")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	to, err := addressQuery(r, "to")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return from, to, nil
}
