package keeper

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"defiapps/core"
	"defiapps/native/amm"
	nativecommon "defiapps/native/common"
	"defiapps/native/oracle"
	"defiapps/storage"
)

var (
	adminAddr = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	tokenBase = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenFoo  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenBar  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	provider  = common.HexToAddress("0x0000000000000000000000000000000000000101")
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := OpenArchive("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newSeededNode(t *testing.T) (*core.Node, *testClock) {
	t.Helper()
	ctx := context.Background()
	// aligned to the 12 second oracle slot
	clock := &testClock{now: time.Unix(1_699_999_992, 0)}
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		Admin:             adminAddr,
		BaseToken:         tokenBase,
		FeeBps:            amm.DefaultFeeBps,
		OracleWindow:      60,
		OracleGranularity: 5,
		Clock:             clock.Now,
	})
	require.NoError(t, err)
	for _, token := range []common.Address{tokenBase, tokenFoo} {
		require.NoError(t, node.MintTokens(ctx, adminAddr, token, provider, big.NewInt(100_000)))
	}
	_, err = node.CreatePair(ctx, tokenFoo, tokenBase)
	require.NoError(t, err)
	_, err = node.MintLiquidity(ctx, provider, tokenFoo, tokenBase, big.NewInt(10_000), big.NewInt(1_000))
	require.NoError(t, err)
	return node, clock
}

func TestTickArchivesSpotThenWindowed(t *testing.T) {
	node, clock := newSeededNode(t)
	archive := newTestArchive(t)
	k, err := New(node, []common.Address{tokenFoo}, time.Second, WithArchive(archive))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, k.Tick(ctx))
	latest, err := archive.Latest(ctx, tokenFoo.Hex(), oracle.KindSpot.String())
	require.NoError(t, err)
	require.Equal(t, "100000000000000000", latest.PriceWad)
	_, err = archive.Latest(ctx, tokenFoo.Hex(), oracle.KindWindowed.String())
	require.ErrorIs(t, err, ErrNoSamples)

	for i := 0; i < 5; i++ {
		clock.now = clock.now.Add(12 * time.Second)
		require.NoError(t, k.Tick(ctx))
	}
	windowed, err := archive.Latest(ctx, tokenFoo.Hex(), oracle.KindWindowed.String())
	require.NoError(t, err)
	require.Equal(t, clock.now.Unix(), windowed.ObservedAt.Unix())
	require.Equal(t, "100000000000000000", windowed.PriceWad)

	history, err := archive.History(ctx, tokenFoo.Hex(), time.Unix(0, 0).UTC(), 0)
	require.NoError(t, err)
	// six spot readings plus windowed ones from the fifth tick on
	require.Len(t, history, 8)
	require.False(t, history[0].ObservedAt.After(history[len(history)-1].ObservedAt))
}

func TestTickWithinSlotIsHarmless(t *testing.T) {
	node, _ := newSeededNode(t)
	k, err := New(node, []common.Address{tokenFoo}, time.Second)
	require.NoError(t, err)
	require.NoError(t, k.Tick(context.Background()))
	require.NoError(t, k.Tick(context.Background()))

	acc, err := node.Accumulator(context.Background(), tokenFoo)
	require.NoError(t, err)
	require.NotNil(t, acc)
}

type stubNode struct {
	now     time.Time
	failing map[common.Address]error
	updates []common.Address
}

func (s *stubNode) BaseToken() common.Address { return tokenBase }
func (s *stubNode) Now() time.Time            { return s.now }

func (s *stubNode) UpdateOracle(_ context.Context, tokenA, _ common.Address) (bool, error) {
	s.updates = append(s.updates, tokenA)
	if err := s.failing[tokenA]; err != nil {
		return false, err
	}
	return true, nil
}

func (s *stubNode) Price(_ context.Context, token common.Address) (*core.PriceReport, error) {
	return &core.PriceReport{
		Token:       token,
		Spot:        big.NewInt(42),
		WindowedErr: nativecommon.ErrStaleOracle,
	}, nil
}

func TestTickContinuesPastFailingToken(t *testing.T) {
	boom := errors.New("pair missing")
	node := &stubNode{now: time.Unix(1_700_000_000, 0), failing: map[common.Address]error{tokenFoo: boom}}
	archive := newTestArchive(t)
	k, err := New(node, []common.Address{tokenFoo, tokenBar}, time.Second, WithArchive(archive))
	require.NoError(t, err)

	err = k.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []common.Address{tokenFoo, tokenBar}, node.updates)

	sample, err := archive.Latest(context.Background(), tokenBar.Hex(), oracle.KindSpot.String())
	require.NoError(t, err)
	require.Equal(t, "42", sample.PriceWad)
	_, err = archive.Latest(context.Background(), tokenFoo.Hex(), oracle.KindSpot.String())
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestRunStopsOnCancel(t *testing.T) {
	node := &stubNode{now: time.Unix(1_700_000_000, 0)}
	k, err := New(node, []common.Address{tokenFoo}, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
}

func TestNewValidation(t *testing.T) {
	node := &stubNode{}
	_, err := New(nil, nil, time.Second)
	require.Error(t, err)
	_, err = New(node, nil, 0)
	require.Error(t, err)
	_, err = New(node, []common.Address{tokenBase}, time.Second)
	require.Error(t, err)
}
