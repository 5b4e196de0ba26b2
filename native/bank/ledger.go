package bank

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "defiapps/native/common"
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TransferAuthority moves fungible tokens between accounts. The exchange,
// lending and staking engines never touch balances directly; every movement of
// value goes through this interface.
type TransferAuthority interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
	supplyPrefix    = []byte("bank/supply/")
)

// MaxAllowance is treated as an unlimited approval and is never decremented.
var MaxAllowance = new(uint256.Int).SetAllOne().ToBig()

func joinKey(prefix []byte, parts ...common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(parts)*common.AddressLength)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

// Ledger is the state-backed token ledger.
type Ledger struct {
	store Storage
}

// NewLedger binds a ledger to the supplied state.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

var _ TransferAuthority = (*Ledger)(nil)

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	value := new(big.Int)
	if _, err := l.store.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) storeAmount(key []byte, value *big.Int) error {
	return l.store.KVPut(key, value)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nativecommon.ErrOverflow
	}
	return nil
}

// BalanceOf returns the token balance held by owner.
func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	return l.loadAmount(joinKey(balancePrefix, token, owner))
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.loadAmount(joinKey(allowancePrefix, token, owner, spender))
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	return l.loadAmount(joinKey(supplyPrefix, token))
}

// Approve sets the allowance of spender over owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return nativecommon.ErrInvalidAddress
	}
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: state not configured")
	}
	return l.storeAmount(joinKey(allowancePrefix, token, owner, spender), new(big.Int).Set(amount))
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) || token == (common.Address{}) {
		return nativecommon.ErrInvalidAddress
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromKey := joinKey(balancePrefix, token, from)
	fromBal, err := l.loadAmount(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s below %s", nativecommon.ErrInsufficientFunds, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toKey := joinKey(balancePrefix, token, to)
	toBal, err := l.loadAmount(toKey)
	if err != nil {
		return err
	}
	if err := l.storeAmount(fromKey, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.storeAmount(toKey, toBal.Add(toBal, amount))
}

// TransferFrom moves tokens on behalf of from, consuming spender's allowance.
// A spender moving its own funds needs no allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender != from && amount.Sign() > 0 {
		key := joinKey(allowancePrefix, token, from, spender)
		allowance, err := l.loadAmount(key)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: allowance %s below %s", nativecommon.ErrInsufficientFunds, allowance, amount)
		}
		if allowance.Cmp(MaxAllowance) != 0 {
			if err := l.storeAmount(key, allowance.Sub(allowance, amount)); err != nil {
				return err
			}
		}
	}
	return l.Transfer(token, from, to, amount)
}

// Mint credits newly created tokens to an account and grows the supply.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) || token == (common.Address{}) {
		return nativecommon.ErrInvalidAddress
	}
	supplyKey := joinKey(supplyPrefix, token)
	supply, err := l.loadAmount(supplyKey)
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	if _, overflow := uint256.FromBig(supply); overflow {
		return nativecommon.ErrOverflow
	}
	balKey := joinKey(balancePrefix, token, to)
	bal, err := l.loadAmount(balKey)
	if err != nil {
		return err
	}
	if err := l.storeAmount(supplyKey, supply); err != nil {
		return err
	}
	return l.storeAmount(balKey, bal.Add(bal, amount))
}

// Burn destroys tokens held by from and shrinks the supply.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balKey := joinKey(balancePrefix, token, from)
	bal, err := l.loadAmount(balKey)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s below %s", nativecommon.ErrInsufficientFunds, bal, amount)
	}
	supplyKey := joinKey(supplyPrefix, token)
	supply, err := l.loadAmount(supplyKey)
	if err != nil {
		return err
	}
	if err := l.storeAmount(balKey, bal.Sub(bal, amount)); err != nil {
		return err
	}
	return l.storeAmount(supplyKey, supply.Sub(supply, amount))
}

// AutoBurnBps is the share of a TransferWithBurn that is destroyed.
const AutoBurnBps = 1_000

const basisPoints = 10_000

// TransferWithBurn destroys burnBps of amount out of from's balance and
// transfers the rest to to. It returns the burned amount.
func (l *Ledger) TransferWithBurn(token, from, to common.Address, amount *big.Int, burnBps uint64) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if burnBps > basisPoints {
		return nil, fmt.Errorf("%w: burn %d bps", nativecommon.ErrInvalidConfig, burnBps)
	}
	if to == (common.Address{}) || token == (common.Address{}) {
		return nil, nativecommon.ErrInvalidAddress
	}
	bal, err := l.BalanceOf(token, from)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: balance %s below %s", nativecommon.ErrInsufficientFunds, bal, amount)
	}
	burned := new(big.Int).Mul(amount, new(big.Int).SetUint64(burnBps))
	burned.Quo(burned, big.NewInt(basisPoints))
	if err := l.Burn(token, from, burned); err != nil {
		return nil, err
	}
	if err := l.Transfer(token, from, to, new(big.Int).Sub(amount, burned)); err != nil {
		return nil, err
	}
	return burned, nil
}

// Wrap locks amount of native under the wrapped token's address and mints the
// same amount of wrapped to owner.
func (l *Ledger) Wrap(native, wrapped, owner common.Address, amount *big.Int) error {
	if native == wrapped {
		return nativecommon.ErrIdenticalTokens
	}
	if err := l.Transfer(native, owner, wrapped, amount); err != nil {
		return err
	}
	return l.Mint(wrapped, owner, amount)
}

// Unwrap burns amount of wrapped held by owner and releases the locked
// native tokens 1:1.
func (l *Ledger) Unwrap(native, wrapped, owner common.Address, amount *big.Int) error {
	if native == wrapped {
		return nativecommon.ErrIdenticalTokens
	}
	if err := l.Burn(wrapped, owner, amount); err != nil {
		return err
	}
	return l.Transfer(native, wrapped, owner, amount)
}
