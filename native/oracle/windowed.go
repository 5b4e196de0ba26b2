package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "defiapps/native/common"
)

var accumulatorPrefix = []byte("oracle/accumulator/")

var errNilState = errors.New("oracle: state not configured")

// Storage abstracts the state manager methods the windowed oracle needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Observation is the cumulative price recorded in one slot of the window.
type Observation struct {
	Timestamp  uint64
	Cumulative *big.Int
}

// Accumulator integrates the price of one token over time. CumulativePrice is
// the integral of the sampled price (WAD) over seconds and never decreases.
type Accumulator struct {
	Token           common.Address
	CumulativePrice *big.Int
	LastPrice       *big.Int
	LastUpdate      uint64
	Observations    []Observation
}

func accumulatorKey(token common.Address) []byte {
	buf := make([]byte, len(accumulatorPrefix)+common.AddressLength)
	copy(buf, accumulatorPrefix)
	copy(buf[len(accumulatorPrefix):], token.Bytes())
	return buf
}

// Windowed is a sliding-window time-weighted average price oracle. The window
// is split into granularity slots of equal length; a keeper calls Update at
// least once per slot and queries average over the oldest retained slot up to
// now.
type Windowed struct {
	base        common.Address
	spot        *Spot
	state       Storage
	window      uint64
	granularity uint64
	period      uint64
	nowFn       func() time.Time
}

// NewWindowed constructs a windowed oracle. The window in seconds must be an
// exact multiple of granularity and granularity must be at least two.
func NewWindowed(base common.Address, pairs ReserveSource, windowSeconds, granularity uint64) (*Windowed, error) {
	if granularity < 2 {
		return nil, fmt.Errorf("%w: granularity must be at least 2", nativecommon.ErrInvalidConfig)
	}
	if windowSeconds == 0 || windowSeconds%granularity != 0 {
		return nil, fmt.Errorf("%w: window %d not divisible by granularity %d", nativecommon.ErrInvalidConfig, windowSeconds, granularity)
	}
	return &Windowed{
		base:        base,
		spot:        NewSpot(base, pairs),
		window:      windowSeconds,
		granularity: granularity,
		period:      windowSeconds / granularity,
		nowFn:       time.Now,
	}, nil
}

// SetState wires the oracle to the external persistence layer.
func (w *Windowed) SetState(state Storage) { w.state = state }

// SetClock overrides the time source.
func (w *Windowed) SetClock(now func() time.Time) {
	if w == nil || now == nil {
		return
	}
	w.nowFn = now
}

func (w *Windowed) Base() common.Address { return w.base }

// Window returns the configured window and slot length in seconds.
func (w *Windowed) Window() (window, period uint64) { return w.window, w.period }

func (w *Windowed) now() uint64 {
	ts := w.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Update samples the spot price of the non-base token of the pair. Calls that
// land in the slot of the previous update leave the accumulator untouched; the
// boolean reports whether a sample was recorded.
func (w *Windowed) Update(tokenA, tokenB common.Address) (bool, error) {
	if w == nil || w.state == nil {
		return false, errNilState
	}
	var token common.Address
	switch w.base {
	case tokenA:
		token = tokenB
	case tokenB:
		token = tokenA
	default:
		return false, ErrBaseTokenRequired
	}
	if token == w.base {
		return false, nativecommon.ErrIdenticalTokens
	}
	acc, err := w.Accumulator(token)
	if err != nil {
		return false, err
	}
	now := w.now()
	epoch := now / w.period
	if acc.LastUpdate != 0 && (now <= acc.LastUpdate || acc.LastUpdate/w.period == epoch) {
		return false, nil
	}
	price, err := w.spot.PriceInBase(token)
	if err != nil {
		return false, err
	}
	if acc.LastUpdate != 0 {
		elapsed := new(big.Int).SetUint64(now - acc.LastUpdate)
		acc.CumulativePrice.Add(acc.CumulativePrice, elapsed.Mul(elapsed, acc.LastPrice))
	}
	acc.LastPrice = price
	acc.LastUpdate = now
	acc.Observations[epoch%w.granularity] = Observation{
		Timestamp:  now,
		Cumulative: new(big.Int).Set(acc.CumulativePrice),
	}
	if err := w.state.KVPut(accumulatorKey(token), acc); err != nil {
		return false, err
	}
	return true, nil
}

// Accumulator returns the stored accumulator for token, or a fresh one.
func (w *Windowed) Accumulator(token common.Address) (*Accumulator, error) {
	if w == nil || w.state == nil {
		return nil, errNilState
	}
	acc := new(Accumulator)
	ok, err := w.state.KVGet(accumulatorKey(token), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		acc = &Accumulator{Token: token}
	}
	if acc.CumulativePrice == nil {
		acc.CumulativePrice = big.NewInt(0)
	}
	if acc.LastPrice == nil {
		acc.LastPrice = big.NewInt(0)
	}
	if uint64(len(acc.Observations)) != w.granularity {
		// A granularity change invalidates every slot.
		acc.Observations = make([]Observation, w.granularity)
	}
	for i := range acc.Observations {
		if acc.Observations[i].Cumulative == nil {
			acc.Observations[i].Cumulative = big.NewInt(0)
		}
	}
	return acc, nil
}

// PriceInBase returns the time-weighted average price over the window. It
// fails with ErrStaleOracle until the retained history spans close to a full
// window, and when the keeper has fallen behind by more than one slot.
func (w *Windowed) PriceInBase(token common.Address) (*big.Int, error) {
	if token == w.base {
		return new(big.Int).Set(WAD), nil
	}
	acc, err := w.Accumulator(token)
	if err != nil {
		return nil, err
	}
	if acc.LastUpdate == 0 {
		return nil, fmt.Errorf("%w: no samples for %s", nativecommon.ErrStaleOracle, token.Hex())
	}
	now := w.now()
	first := acc.Observations[(now/w.period+1)%w.granularity]
	if first.Timestamp == 0 || first.Timestamp >= now {
		return nil, fmt.Errorf("%w: window not yet filled", nativecommon.ErrStaleOracle)
	}
	elapsed := now - first.Timestamp
	var minElapsed uint64
	if w.window > 2*w.period {
		minElapsed = w.window - 2*w.period
	}
	if elapsed > w.window || elapsed < minElapsed {
		return nil, fmt.Errorf("%w: oldest sample is %ds old, window is %ds", nativecommon.ErrStaleOracle, elapsed, w.window)
	}
	cumulative := new(big.Int).Set(acc.CumulativePrice)
	if now > acc.LastUpdate {
		tail := new(big.Int).SetUint64(now - acc.LastUpdate)
		cumulative.Add(cumulative, tail.Mul(tail, acc.LastPrice))
	}
	cumulative.Sub(cumulative, first.Cumulative)
	return cumulative.Quo(cumulative, new(big.Int).SetUint64(elapsed)), nil
}
