package relay

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/config"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// TransferSource is the bridge whose requested transfers get signed.
type TransferSource interface {
	Address() common.Address
	TransfersAfter(ctx context.Context, after uint64, limit int) ([]bridge.Transfer, error)
}

type VoucherSigner interface {
	SignAndEnqueue(ctx context.Context, source common.Address, t bridge.Transfer) (*voucher.BridgeVoucher, error)
}

// RunGenerator periodically signs newly requested transfers of src.
func RunGenerator(ctx context.Context, cfg *config.Config, rdb *redis.Client, src TransferSource, signer VoucherSigner, log *zap.Logger) {
	interval := time.Duration(cfg.Relay.IntervalSec) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("voucher generator started",
		zap.Duration("interval", interval),
		zap.String("source", src.Address().Hex()),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("voucher generator stopped")
			return
		case <-ticker.C:
			runGeneration(ctx, rdb, src, signer, cfg.Relay.BatchSize, log)
		}
	}
}

// runGeneration signs transfers after the cursor in id order and returns how
// many were queued. It stops at the first failure so the cursor never skips
// an unsigned transfer.
func runGeneration(ctx context.Context, rdb *redis.Client, src TransferSource, signer VoucherSigner, batch int, log *zap.Logger) int {
	cursorKey := CursorKey(src.Address())
	after, err := readCursor(ctx, rdb, cursorKey)
	if err != nil {
		log.Error("generator: read cursor", zap.Error(err))
		return 0
	}

	transfers, err := src.TransfersAfter(ctx, after, batch)
	if err != nil {
		log.Error("generator: list transfers", zap.Error(err))
		return 0
	}

	queued := 0
	for _, t := range transfers {
		if _, err := signer.SignAndEnqueue(ctx, src.Address(), t); err != nil {
			log.Error("generator: sign/enqueue", zap.Uint64("id", t.ID), zap.Error(err))
			return queued
		}
		if err := rdb.Set(ctx, cursorKey, t.ID, 0).Err(); err != nil {
			log.Error("generator: advance cursor", zap.Uint64("id", t.ID), zap.Error(err))
			return queued
		}
		generated.Inc()
		queued++
		log.Info("bridge voucher queued",
			zap.Uint64("id", t.ID),
			zap.String("destination", t.DestinationContract.Hex()),
			zap.String("recipient", t.Sender.Hex()),
		)
	}
	return queued
}

func readCursor(ctx context.Context, rdb *redis.Client, key string) (uint64, error) {
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}
