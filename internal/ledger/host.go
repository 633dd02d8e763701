package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Host is the execution environment for ledger operations. Transitions are
// serialised and each one either commits all of its writes or none.
type Host struct {
	mu    sync.Mutex
	store Store
	clock Clock
}

func NewHost(store Store, clock Clock) *Host {
	return &Host{store: store, clock: clock}
}

// Execute runs fn as one atomic transition. Writes are discarded if fn fails.
func (h *Host) Execute(ctx context.Context, fn func(tx *Tx) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx := newTx(ctx, h.store, h.clock.Now())
	if err := fn(tx); err != nil {
		return err
	}
	return h.store.Commit(ctx, tx.writes())
}

// View runs fn against current state; anything it stages is dropped.
func (h *Host) View(ctx context.Context, fn func(tx *Tx) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(newTx(ctx, h.store, h.clock.Now()))
}

// Now returns the clock's current timestamp.
func (h *Host) Now() int64 { return h.clock.Now() }

// Tx is the state view of a single transition, with read-your-writes.
type Tx struct {
	ctx    context.Context
	store  Store
	now    int64
	staged map[string][]byte
	order  []string
}

func newTx(ctx context.Context, store Store, now int64) *Tx {
	return &Tx{ctx: ctx, store: store, now: now, staged: make(map[string][]byte)}
}

func (tx *Tx) Context() context.Context { return tx.ctx }

// Now is the block timestamp of this transition. It does not move while the
// transition runs.
func (tx *Tx) Now() int64 { return tx.now }

func (tx *Tx) Get(key string) ([]byte, bool, error) {
	if v, ok := tx.staged[key]; ok {
		return v, v != nil, nil
	}
	return tx.store.Get(tx.ctx, key)
}

func (tx *Tx) Has(key string) (bool, error) {
	_, ok, err := tx.Get(key)
	return ok, err
}

func (tx *Tx) Put(key string, val []byte) {
	if val == nil {
		val = []byte{}
	}
	tx.stage(key, val)
}

func (tx *Tx) Delete(key string) { tx.stage(key, nil) }

func (tx *Tx) stage(key string, val []byte) {
	if _, ok := tx.staged[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.staged[key] = val
}

func (tx *Tx) GetJSON(key string, v any) (bool, error) {
	raw, ok, err := tx.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.Put(key, raw)
	return nil
}

// GetBig reads a decimal integer; a missing key reads as zero.
func (tx *Tx) GetBig(key string) (*big.Int, error) {
	raw, ok, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("decode %s: not an integer", key)
	}
	return n, nil
}

func (tx *Tx) PutBig(key string, v *big.Int) {
	tx.Put(key, []byte(v.String()))
}

func (tx *Tx) writes() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, Write{Key: k, Value: tx.staged[k]})
	}
	return out
}

// Key joins key segments with ':'.
func Key(parts ...string) string { return strings.Join(parts, ":") }

// AddrKey is the canonical key segment for an address.
func AddrKey(a common.Address) string { return strings.ToLower(a.Hex()) }
