package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/core"
	"defiapps/native/oracle"
	"defiapps/observability"
)

// Node is the subset of the node the keeper drives.
type Node interface {
	BaseToken() common.Address
	Now() time.Time
	UpdateOracle(ctx context.Context, tokenA, tokenB common.Address) (bool, error)
	Price(ctx context.Context, token common.Address) (*core.PriceReport, error)
}

// Keeper samples every tracked token into the windowed oracle on a fixed
// interval and archives the resulting prices.
type Keeper struct {
	node     Node
	tokens   []common.Address
	interval time.Duration
	archive  *Archive
	logger   *slog.Logger
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		k.logger = l
	}
}

// WithArchive records every tick's prices in archive.
func WithArchive(archive *Archive) Option {
	return func(k *Keeper) {
		k.archive = archive
	}
}

// New constructs a keeper tracking tokens against the node's base token.
func New(node Node, tokens []common.Address, interval time.Duration, opts ...Option) (*Keeper, error) {
	if node == nil {
		return nil, fmt.Errorf("node required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	base := node.BaseToken()
	tracked := make([]common.Address, 0, len(tokens))
	for _, token := range tokens {
		if token == base {
			return nil, fmt.Errorf("cannot track base token %s", token.Hex())
		}
		tracked = append(tracked, token)
	}
	k := &Keeper{
		node:     node,
		tokens:   tracked,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	return k, nil
}

// Run blocks, ticking until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("oracle keeper started", "tokens", len(k.tokens), "interval", k.interval.String())
	})
	for {
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("keeper tick incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick updates and archives every tracked token once. A failing token does
// not stop the others; their errors are joined.
func (k *Keeper) Tick(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	started := time.Now()
	var errs []error
	for _, token := range k.tokens {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := k.processToken(ctx, token); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", token.Hex(), err))
		}
	}
	observability.Keeper().ObserveTick(len(errs), started, time.Since(started))
	return errors.Join(errs...)
}

func (k *Keeper) processToken(ctx context.Context, token common.Address) error {
	written, err := k.node.UpdateOracle(ctx, token, k.node.BaseToken())
	if err != nil {
		return fmt.Errorf("update oracle: %w", err)
	}
	report, err := k.node.Price(ctx, token)
	if err != nil {
		return fmt.Errorf("read price: %w", err)
	}
	observedAt := k.node.Now().UTC()
	samples := []PriceSample{{
		Token:      token.Hex(),
		Kind:       oracle.KindSpot.String(),
		PriceWad:   report.Spot.String(),
		ObservedAt: observedAt,
	}}
	if report.WindowedErr == nil && report.Windowed != nil {
		samples = append(samples, PriceSample{
			Token:      token.Hex(),
			Kind:       oracle.KindWindowed.String(),
			PriceWad:   report.Windowed.String(),
			ObservedAt: observedAt,
		})
	}
	k.logger.Debug("oracle sampled", "token", token.Hex(), "written", written, "spot", report.Spot.String())
	if err := k.archive.Record(ctx, samples); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}
