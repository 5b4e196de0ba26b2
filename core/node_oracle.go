package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/oracle"
	"defiapps/observability"
)

// PriceReport bundles both oracle readings of a token. Windowed is nil while
// the window is not yet filled.
type PriceReport struct {
	Token       common.Address
	Spot        *big.Int
	Windowed    *big.Int
	WindowedErr error
	Kind        oracle.Kind
}

// UpdateOracle samples the pair into the windowed accumulator. It reports
// whether a sample was written; calls inside the slot of the previous sample
// are no-ops.
func (n *Node) UpdateOracle(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var written bool
	token := tokenA
	if token == n.baseToken {
		token = tokenB
	}
	err := n.atomic(ctx, moduleOracle, "update", func(e *engines) error {
		var err error
		written, err = e.windowed.Update(tokenA, tokenB)
		return err
	})
	outcome := "skipped"
	switch {
	case err != nil:
		outcome = "error"
	case written:
		outcome = "written"
	}
	observability.Oracle().RecordUpdate(token.Hex(), outcome)
	return written, err
}

// Price reports the spot and windowed price of token together with the
// variant lending currently values accounts with.
func (n *Node) Price(ctx context.Context, token common.Address) (*PriceReport, error) {
	report := &PriceReport{Token: token}
	err := n.view(ctx, moduleOracle, "price", func(e *engines) error {
		spot, err := e.spot.PriceInBase(token)
		if err != nil {
			return err
		}
		report.Spot = spot
		report.Windowed, report.WindowedErr = e.windowed.PriceInBase(token)
		report.Kind, err = e.lending.OracleKind()
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics := observability.Oracle()
	metrics.RecordPrice(token.Hex(), oracle.KindSpot.String(), report.Spot)
	if report.WindowedErr == nil {
		metrics.RecordPrice(token.Hex(), oracle.KindWindowed.String(), report.Windowed)
	}
	return report, nil
}

// Accumulator returns the windowed accumulator for token.
func (n *Node) Accumulator(ctx context.Context, token common.Address) (*oracle.Accumulator, error) {
	var acc *oracle.Accumulator
	err := n.view(ctx, moduleOracle, "accumulator", func(e *engines) error {
		var err error
		acc, err = e.windowed.Accumulator(token)
		return err
	})
	return acc, err
}
