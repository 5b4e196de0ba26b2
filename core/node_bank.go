package core

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
)

// MintTokens credits newly issued tokens. Only the admin may mint.
func (n *Node) MintTokens(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	return n.atomic(ctx, moduleBank, "mint", func(e *engines) error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		return e.ledger.Mint(token, to, amount)
	})
}

func (n *Node) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	return n.atomic(ctx, moduleBank, "transfer", func(e *engines) error {
		return e.ledger.Transfer(token, from, to, amount)
	})
}

// TransferWithBurn sends amount less the auto-burn share and returns the
// burned amount.
func (n *Node) TransferWithBurn(ctx context.Context, token, from, to common.Address, amount *big.Int) (*big.Int, error) {
	var burned *big.Int
	err := n.atomic(ctx, moduleBank, "transfer_with_burn", func(e *engines) error {
		var err error
		burned, err = e.ledger.TransferWithBurn(token, from, to, amount, bank.AutoBurnBps)
		return err
	})
	return burned, err
}

// Wrap converts amount of the native token into the wrapped token 1:1.
func (n *Node) Wrap(ctx context.Context, owner common.Address, amount *big.Int) error {
	return n.atomic(ctx, moduleBank, "wrap", func(e *engines) error {
		if err := n.requireWrapping(); err != nil {
			return err
		}
		return e.ledger.Wrap(n.nativeToken, n.wrappedNative, owner, amount)
	})
}

func (n *Node) Unwrap(ctx context.Context, owner common.Address, amount *big.Int) error {
	return n.atomic(ctx, moduleBank, "unwrap", func(e *engines) error {
		if err := n.requireWrapping(); err != nil {
			return err
		}
		return e.ledger.Unwrap(n.nativeToken, n.wrappedNative, owner, amount)
	})
}

func (n *Node) requireWrapping() error {
	if n.wrappedNative == (common.Address{}) {
		return fmt.Errorf("%w: wrapping not configured", nativecommon.ErrInvalidConfig)
	}
	return nil
}

// Approve sets the allowance spender may pull from owner.
func (n *Node) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	return n.atomic(ctx, moduleBank, "approve", func(e *engines) error {
		return e.ledger.Approve(token, owner, spender, amount)
	})
}

func (n *Node) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.view(ctx, moduleBank, "balance", func(e *engines) error {
		var err error
		balance, err = e.ledger.BalanceOf(token, owner)
		return err
	})
	return balance, err
}

func (n *Node) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int
	err := n.view(ctx, moduleBank, "allowance", func(e *engines) error {
		var err error
		allowance, err = e.ledger.Allowance(token, owner, spender)
		return err
	})
	return allowance, err
}
