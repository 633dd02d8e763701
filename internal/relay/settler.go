package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/config"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// Outcome of settling one queued voucher.
type Outcome string

const (
	Redeemed  Outcome = "redeemed"
	Duplicate Outcome = "duplicate"
	Rejected  Outcome = "rejected"
	Malformed Outcome = "malformed"
	Retry     Outcome = "retry"
)

// Redeemer is the destination bridge.
type Redeemer interface {
	Address() common.Address
	SecureRedeem(ctx context.Context, caller common.Address, req bridge.RedeemRequest) error
}

// RunSettler is the settler loop: BLPOP → SecureRedeem → handle outcome.
// operator must hold CURATOR_ROLE on dest.
func RunSettler(ctx context.Context, cfg *config.Config, rdb *redis.Client, dest Redeemer, operator common.Address, log *zap.Logger) {
	queueKey := QueueKey(dest.Address())
	blpopTimeout := time.Duration(cfg.Relay.IntervalSec) * time.Second / 2

	log.Info("settler started", zap.String("queue", queueKey))

	for {
		if ctx.Err() != nil {
			log.Info("settler stopped")
			return
		}

		results, err := rdb.BLPop(ctx, blpopTimeout, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settler: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		if Settle(ctx, rdb, dest, operator, results[1], log) == Retry {
			time.Sleep(5 * time.Second)
		}
	}
}

// Settle redeems one popped voucher. A voucher that fails for a transient
// reason goes back to the head of the queue.
func Settle(ctx context.Context, rdb *redis.Client, dest Redeemer, operator common.Address, raw string, log *zap.Logger) Outcome {
	outcome := settle(ctx, rdb, dest, operator, raw, log)
	settled.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func settle(ctx context.Context, rdb *redis.Client, dest Redeemer, operator common.Address, raw string, log *zap.Logger) Outcome {
	dlq := DLQKey(dest.Address())

	var bv voucher.BridgeVoucher
	if err := json.Unmarshal([]byte(raw), &bv); err != nil || bv.Amount == nil {
		log.Error("settler: unmarshal voucher", zap.String("raw", raw), zap.Error(err))
		rdb.RPush(ctx, dlq, raw) //nolint:errcheck
		return Malformed
	}

	err := dest.SecureRedeem(ctx, operator, bridge.RedeemRequest{
		ChainID:   bv.ChainID,
		Contract:  bv.Contract,
		ID:        bv.ID,
		Amount:    bv.Amount,
		Recipient: bv.Recipient,
		Signature: bv.Signature,
	})
	switch {
	case err == nil:
		log.Info("voucher settled",
			zap.Uint64("id", bv.ID),
			zap.String("recipient", bv.Recipient.Hex()),
			zap.String("amount", bv.Amount.String()),
		)
		return Redeemed

	case errors.Is(err, ledger.ErrAlreadyConsumed):
		log.Warn("voucher discarded: already redeemed", zap.Uint64("id", bv.ID))
		return Duplicate

	case errors.Is(err, ledger.ErrInvalidSignature),
		errors.Is(err, ledger.ErrInvalidDestination),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnauthorized):
		rdb.RPush(ctx, dlq, raw) //nolint:errcheck
		log.Error("voucher rejected: signer or bridge config issue",
			zap.String("kind", ledger.Kind(err)),
			zap.Uint64("id", bv.ID),
			zap.String("source", bv.Source.Hex()),
			zap.Error(err),
		)
		return Rejected

	default:
		rdb.LPush(ctx, QueueKey(dest.Address()), raw) //nolint:errcheck
		log.Error("settler: redeem failed, requeued", zap.Uint64("id", bv.ID), zap.Error(err))
		return Retry
	}
}
