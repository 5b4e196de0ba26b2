package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	nativecommon "defiapps/native/common"
)

var (
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	foo  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	bar  = common.HexToAddress("0x00000000000000000000000000000000000000ba")
)

type reserveKey struct{ a, b common.Address }

type fakeReserves map[reserveKey][2]int64

func (f fakeReserves) set(token common.Address, reserveToken, reserveBase int64) {
	f[reserveKey{token, weth}] = [2]int64{reserveToken, reserveBase}
}

func (f fakeReserves) GetReserves(a, b common.Address) (*big.Int, *big.Int, error) {
	if r, ok := f[reserveKey{a, b}]; ok {
		return big.NewInt(r[0]), big.NewInt(r[1]), nil
	}
	if r, ok := f[reserveKey{b, a}]; ok {
		return big.NewInt(r[1]), big.NewInt(r[0]), nil
	}
	return nil, nil, errors.New("pair not found")
}

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

type testClock struct{ now int64 }

func (c *testClock) Now() time.Time       { return time.Unix(c.now, 0) }
func (c *testClock) advance(seconds int64) { c.now += seconds }

const start = 1_200_000

func wad(numerator, denominator int64) *big.Int {
	v := new(big.Int).Mul(WAD, big.NewInt(numerator))
	return v.Quo(v, big.NewInt(denominator))
}

func newWindowed(t *testing.T, reserves fakeReserves) (*Windowed, *testClock) {
	t.Helper()
	w, err := NewWindowed(weth, reserves, 60, 5)
	if err != nil {
		t.Fatalf("new windowed: %v", err)
	}
	clock := &testClock{now: start}
	w.SetClock(clock.Now)
	w.SetState(newMemoryStore())
	return w, clock
}

func warmUp(t *testing.T, w *Windowed, clock *testClock, slots int) {
	t.Helper()
	for i := 0; i < slots; i++ {
		if i > 0 {
			clock.advance(12)
		}
		if _, err := w.Update(weth, foo); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
}

func TestSpotPrice(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	spot := NewSpot(weth, reserves)

	price, err := spot.PriceInBase(foo)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if price.Cmp(wad(1, 10)) != 0 {
		t.Fatalf("price = %s, want 0.1 WAD", price)
	}
	if base, _ := spot.PriceInBase(weth); base.Cmp(WAD) != 0 {
		t.Fatalf("base price = %s, want 1 WAD", base)
	}
	reserves.set(bar, 0, 0)
	if _, err := spot.PriceInBase(bar); !errors.Is(err, nativecommon.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestWindowedRequiresFullWindow(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	w, clock := newWindowed(t, reserves)

	if _, err := w.PriceInBase(foo); !errors.Is(err, nativecommon.ErrStaleOracle) {
		t.Fatalf("expected ErrStaleOracle before any update, got %v", err)
	}
	warmUp(t, w, clock, 2)
	if _, err := w.PriceInBase(foo); !errors.Is(err, nativecommon.ErrStaleOracle) {
		t.Fatalf("expected ErrStaleOracle with partial history, got %v", err)
	}
	for i := 0; i < 4; i++ {
		clock.advance(12)
		if _, err := w.Update(foo, weth); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	price, err := w.PriceInBase(foo)
	if err != nil {
		t.Fatalf("windowed price: %v", err)
	}
	if price.Cmp(wad(1, 10)) != 0 {
		t.Fatalf("price = %s, want 0.1 WAD", price)
	}
}

func TestWindowedUpdateIsIdempotentWithinSlot(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	w, clock := newWindowed(t, reserves)
	warmUp(t, w, clock, 2)

	before, err := w.Accumulator(foo)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	clock.advance(5)
	updated, err := w.Update(weth, foo)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated {
		t.Fatalf("second update inside one slot must be a no-op")
	}
	after, _ := w.Accumulator(foo)
	if after.CumulativePrice.Cmp(before.CumulativePrice) != 0 || after.LastUpdate != before.LastUpdate {
		t.Fatalf("accumulator changed within slot")
	}

	// A later call integrates the whole gap, including the skipped seconds.
	clock.advance(7)
	if updated, err = w.Update(weth, foo); err != nil || !updated {
		t.Fatalf("update after slot boundary: updated=%v err=%v", updated, err)
	}
	after, _ = w.Accumulator(foo)
	want := new(big.Int).Add(before.CumulativePrice, new(big.Int).Mul(wad(1, 10), big.NewInt(12)))
	if after.CumulativePrice.Cmp(want) != 0 {
		t.Fatalf("cumulative = %s, want %s", after.CumulativePrice, want)
	}
}

func TestWindowedAveragesPriceChanges(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	w, clock := newWindowed(t, reserves)
	warmUp(t, w, clock, 3)

	reserves.set(foo, 5, 1)
	for i := 0; i < 3; i++ {
		clock.advance(12)
		if _, err := w.Update(weth, foo); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	price, err := w.PriceInBase(foo)
	if err != nil {
		t.Fatalf("windowed price: %v", err)
	}
	want := new(big.Int).Add(wad(1, 10), wad(1, 5))
	want.Quo(want, big.NewInt(2))
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

func TestWindowedIgnoresSameInstantManipulation(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	w, clock := newWindowed(t, reserves)
	warmUp(t, w, clock, 6)

	reserves.set(foo, 1, 1)
	spot, err := NewSpot(weth, reserves).PriceInBase(foo)
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	if spot.Cmp(WAD) != 0 {
		t.Fatalf("spot price should follow reserves, got %s", spot)
	}
	twap, err := w.PriceInBase(foo)
	if err != nil {
		t.Fatalf("windowed: %v", err)
	}
	if twap.Cmp(wad(1, 10)) != 0 {
		t.Fatalf("windowed price moved to %s", twap)
	}
}

func TestWindowedDetectsKeeperGap(t *testing.T) {
	reserves := fakeReserves{}
	reserves.set(foo, 10, 1)
	w, clock := newWindowed(t, reserves)
	warmUp(t, w, clock, 6)

	clock.advance(200)
	if _, err := w.PriceInBase(foo); !errors.Is(err, nativecommon.ErrStaleOracle) {
		t.Fatalf("expected ErrStaleOracle after keeper gap, got %v", err)
	}
}

func TestWindowedValidation(t *testing.T) {
	if _, err := NewWindowed(weth, fakeReserves{}, 60, 7); !errors.Is(err, nativecommon.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewWindowed(weth, fakeReserves{}, 60, 1); !errors.Is(err, nativecommon.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	w, _ := newWindowed(t, fakeReserves{})
	if _, err := w.Update(foo, bar); !errors.Is(err, ErrBaseTokenRequired) {
		t.Fatalf("expected ErrBaseTokenRequired, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" TWAP ")
	if err != nil || kind != KindWindowed {
		t.Fatalf("parse twap: %v %v", kind, err)
	}
	if _, err := ParseKind("median"); !errors.Is(err, nativecommon.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
