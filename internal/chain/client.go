// Package chain reads block time and chain identity from an EVM node, so the
// ledgers can run on the timestamps of a real chain instead of the host clock.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// HeaderReader is satisfied by *ethclient.Client and the simulated backend.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dial connects to rpcURL and checks it serves wantChainID.
func Dial(ctx context.Context, rpcURL string, wantChainID uint64) (*ethclient.Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if err := CheckChainID(ctx, eth, wantChainID); err != nil {
		eth.Close()
		return nil, err
	}
	return eth, nil
}

// CheckChainID fails when the node reports a chain id other than want.
func CheckChainID(ctx context.Context, r HeaderReader, want uint64) error {
	got, err := r.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if !got.IsUint64() || got.Uint64() != want {
		return fmt.Errorf("chain id mismatch: node reports %s, configured %d", got, want)
	}
	return nil
}

// BlockClock reports the timestamp of the latest block. It never goes
// backwards: when the node is unreachable it repeats the last block time it
// saw, or the host time if it has seen none.
type BlockClock struct {
	reader  HeaderReader
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	last int64
}

func NewBlockClock(reader HeaderReader, log *zap.Logger) *BlockClock {
	return &BlockClock{reader: reader, timeout: 5 * time.Second, log: log}
}

func (c *BlockClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	head, err := c.reader.HeaderByNumber(ctx, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warn("block clock: latest header unavailable", zap.Error(err))
		if c.last == 0 {
			// Later headers older than this are held at it.
			c.last = time.Now().Unix()
		}
		return c.last
	}
	if ts := int64(head.Time); ts > c.last {
		c.last = ts
	}
	return c.last
}
