package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/chain"
)

// The go-ethereum simulated backend always uses chainID 1337.
const simChainID = 1337

func newBackend(t *testing.T) *simulated.Backend {
	t.Helper()
	backend := simulated.NewBackend(types.GenesisAlloc{})
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestCheckChainID(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if err := chain.CheckChainID(ctx, backend.Client(), simChainID); err != nil {
		t.Fatalf("CheckChainID: %v", err)
	}
	if err := chain.CheckChainID(ctx, backend.Client(), 1); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestBlockClock_FollowsLatestHeader(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	clock := chain.NewBlockClock(backend.Client(), zap.NewNop())

	backend.Commit()
	head, err := backend.Client().HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("HeaderByNumber: %v", err)
	}
	if got := clock.Now(); got != int64(head.Time) {
		t.Errorf("Now: got %d want %d", got, head.Time)
	}

	if err := backend.AdjustTime(time.Hour); err != nil {
		t.Fatalf("AdjustTime: %v", err)
	}
	backend.Commit()
	head, err = backend.Client().HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("HeaderByNumber: %v", err)
	}
	if got := clock.Now(); got != int64(head.Time) {
		t.Errorf("Now after adjust: got %d want %d", got, head.Time)
	}
}

type flakyReader struct {
	ts  uint64
	err error
}

func (f *flakyReader) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Header{Time: f.ts}, nil
}

func (f *flakyReader) ChainID(context.Context) (*big.Int, error) { return big.NewInt(simChainID), nil }

func TestBlockClock_NeverGoesBackwards(t *testing.T) {
	r := &flakyReader{ts: 1_700_000_100}
	clock := chain.NewBlockClock(r, zap.NewNop())

	if got := clock.Now(); got != 1_700_000_100 {
		t.Fatalf("Now: got %d", got)
	}

	r.err = errors.New("connection refused")
	if got := clock.Now(); got != 1_700_000_100 {
		t.Errorf("Now while unreachable: got %d want last seen", got)
	}

	r.err = nil
	r.ts = 1_700_000_050
	if got := clock.Now(); got != 1_700_000_100 {
		t.Errorf("Now with stale node: got %d want 1700000100", got)
	}
}

func TestBlockClock_WallFallbackHoldsFloor(t *testing.T) {
	r := &flakyReader{err: errors.New("dial tcp: connection refused")}
	clock := chain.NewBlockClock(r, zap.NewNop())

	first := clock.Now()
	if first < time.Now().Add(-time.Minute).Unix() {
		t.Fatalf("fallback should be host time, got %d", first)
	}

	// node comes up reporting an older head
	r.err = nil
	r.ts = 1_000_000
	if got := clock.Now(); got < first {
		t.Errorf("clock went backwards: %d then %d", first, got)
	}

	r.ts = uint64(first + 60)
	if got := clock.Now(); got != first+60 {
		t.Errorf("Now: got %d want %d", got, first+60)
	}
}
