package routes

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"defiapps/core"
	"defiapps/gateway/middleware"
	"defiapps/native/amm"
	"defiapps/native/lending"
	"defiapps/native/router"
	"defiapps/native/staking"
)

// Route groups sharing a rate limit bucket.
const (
	GroupAMM     = "amm"
	GroupOracle  = "oracle"
	GroupLending = "lending"
	GroupStaking = "staking"
)

// Groups lists every rate limited route group.
var Groups = []string{GroupAMM, GroupOracle, GroupLending, GroupStaking}

// Node is the read surface of the node the gateway serves.
type Node interface {
	BaseToken() common.Address
	Pairs(ctx context.Context) ([]*amm.Pair, error)
	Pair(ctx context.Context, tokenA, tokenB common.Address) (*amm.Pair, error)
	FindAllPaths(ctx context.Context, from, to common.Address) ([][]common.Address, error)
	BestQuoteOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*router.Quote, error)
	BestQuoteIn(ctx context.Context, amountOut *big.Int, from, to common.Address) (*router.Quote, error)
	Price(ctx context.Context, token common.Address) (*core.PriceReport, error)
	LendingPools(ctx context.Context) ([]*lending.AssetPool, error)
	LendingPool(ctx context.Context, asset common.Address) (*lending.AssetPool, error)
	PoolRates(ctx context.Context, asset common.Address) (*big.Int, *big.Int, error)
	UserInfo(ctx context.Context, user common.Address) (*lending.UserAccount, error)
	UserPoolData(ctx context.Context, user, asset common.Address) (*lending.UserPosition, error)
	StakingPools(ctx context.Context) ([]*staking.Pool, error)
	PendingReward(ctx context.Context, user, pool common.Address) (*big.Int, error)
}

type Config struct {
	Node Node
	// History enables the archived price routes when set.
	History        PriceHistory
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	AllowedOrigins []string
	// Timeout bounds every handler; zero means ten seconds.
	Timeout time.Duration
}

type handlers struct {
	node    Node
	history PriceHistory
	timeout time.Duration
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("gateway: node required")
	}
	h := &handlers{node: cfg.Node, history: cfg.History, timeout: cfg.Timeout}
	if h.timeout <= 0 {
		h.timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	limited := func(sr chi.Router, group string) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(group))
		}
	}
	r.Route("/v1", func(v chi.Router) {
		v.Group(func(g chi.Router) {
			limited(g, GroupAMM)
			g.Get("/pairs", h.listPairs)
			g.Get("/pairs/{tokenA}/{tokenB}", h.getPair)
			g.Get("/paths", h.findPaths)
			g.Get("/quote/out", h.quoteOut)
			g.Get("/quote/in", h.quoteIn)
		})
		v.Group(func(g chi.Router) {
			limited(g, GroupOracle)
			g.Get("/oracle/{token}", h.getPrice)
			if h.history != nil {
				g.Get("/oracle/{token}/history", h.priceHistory)
				g.Get("/oracle/{token}/history/latest", h.latestPrice)
			}
		})
		v.Group(func(g chi.Router) {
			limited(g, GroupLending)
			g.Get("/lending/pools", h.listLendingPools)
			g.Get("/lending/pools/{asset}", h.getLendingPool)
			g.Get("/lending/accounts/{user}", h.getAccount)
			g.Get("/lending/accounts/{user}/pools/{asset}", h.getPosition)
		})
		v.Group(func(g chi.Router) {
			limited(g, GroupStaking)
			g.Get("/staking/pools", h.listStakingPools)
			g.Get("/staking/pools/{pool}/rewards/{user}", h.pendingReward)
		})
	})
	return r, nil
}

func (h *handlers) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.timeout)
}
