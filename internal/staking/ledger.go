// Package staking is the accrual ledger: owners stake NFTs into its custody
// and earn reward tokens linearly with staked time.
package staking

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/asset"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/token"
)

// DefaultRate is 0.0001 reward tokens (18 decimals) per second, roughly
// 8.64 tokens a day per staked asset.
var DefaultRate = big.NewInt(1e14)

// Position is a staked asset. StakedAt == 0 means not staked.
type Position struct {
	Owner         common.Address `json:"owner"`
	AssetID       uint64         `json:"asset_id"`
	StakedAt      int64          `json:"staked_at"`
	LastReleaseAt int64          `json:"last_release_at"`
}

// Holdings splits an owner's assets by custody.
type Holdings struct {
	Staked   []uint64 `json:"staked"`
	Unstaked []uint64 `json:"unstaked"`
}

// Ledger stakes assets of one registry and mints rewards from one token. The
// ledger's own address must hold MINTER_ROLE on the reward token.
type Ledger struct {
	host   *ledger.Host
	addr   common.Address
	assets *asset.Registry
	reward *token.Token
	rate   *big.Int
	log    *zap.Logger
}

func New(host *ledger.Host, addr common.Address, assets *asset.Registry, reward *token.Token, rate *big.Int, log *zap.Logger) *Ledger {
	if rate == nil {
		rate = DefaultRate
	}
	return &Ledger{
		host:   host,
		addr:   addr,
		assets: assets,
		reward: reward,
		rate:   new(big.Int).Set(rate),
		log:    log,
	}
}

func (l *Ledger) Address() common.Address { return l.addr }

// RewardToken is the token rewards are minted from.
func (l *Ledger) RewardToken() *token.Token { return l.reward }

func (l *Ledger) Assets() *asset.Registry { return l.assets }

// Rate is reward units per staked second.
func (l *Ledger) Rate() *big.Int { return new(big.Int).Set(l.rate) }

func (l *Ledger) positionKey(id uint64) string {
	return ledger.Key("staking", ledger.AddrKey(l.addr), "position", strconv.FormatUint(id, 10))
}

func (l *Ledger) stakedKey(owner common.Address) string {
	return ledger.Key("staking", ledger.AddrKey(l.addr), "staked", ledger.AddrKey(owner))
}

// Stake moves each asset into the ledger's custody. The caller must own every
// id and have approved the ledger (per token or as operator).
func (l *Ledger) Stake(ctx context.Context, caller common.Address, ids []uint64) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		for _, id := range ids {
			if err := l.stake(tx, caller, id); err != nil {
				return fmt.Errorf("stake %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("assets staked", zap.String("owner", caller.Hex()), zap.Uint64s("ids", ids))
	return nil
}

func (l *Ledger) stake(tx *ledger.Tx, caller common.Address, id uint64) error {
	pos, err := l.position(tx, id)
	if err != nil {
		return err
	}
	if pos.StakedAt != 0 {
		return ledger.ErrAlreadyStaked
	}
	owner, err := l.assets.OwnerOf(tx, id)
	if err != nil {
		return err
	}
	if owner != caller {
		return fmt.Errorf("%w: held by %s", ledger.ErrNotOwner, owner.Hex())
	}
	if err := l.assets.TransferFrom(tx, l.addr, caller, l.addr, id); err != nil {
		return err
	}

	now := tx.Now()
	if err := tx.PutJSON(l.positionKey(id), Position{Owner: caller, AssetID: id, StakedAt: now, LastReleaseAt: now}); err != nil {
		return err
	}
	return l.index(tx, caller, id, true)
}

// Release mints the accrued reward of each id to the caller and restarts
// accrual from now. It returns the total minted.
func (l *Ledger) Release(ctx context.Context, caller common.Address, ids []uint64) (*big.Int, error) {
	if err := checkBatch(ids); err != nil {
		return nil, err
	}
	total := new(big.Int)
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		total.SetInt64(0)
		for _, id := range ids {
			amt, err := l.release(tx, caller, id)
			if err != nil {
				return fmt.Errorf("release %d: %w", id, err)
			}
			total.Add(total, amt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("rewards released",
		zap.String("owner", caller.Hex()),
		zap.Uint64s("ids", ids),
		zap.String("amount", total.String()),
	)
	return total, nil
}

// ReleaseAll releases every asset the caller has staked.
func (l *Ledger) ReleaseAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	ids, err := l.TokensStaked(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return new(big.Int), nil
	}
	return l.Release(ctx, caller, ids)
}

func (l *Ledger) release(tx *ledger.Tx, caller common.Address, id uint64) (*big.Int, error) {
	pos, err := l.position(tx, id)
	if err != nil {
		return nil, err
	}
	if pos.StakedAt == 0 || pos.Owner != caller {
		return nil, ledger.ErrNotStaked
	}
	amt := l.accrued(pos, tx.Now())
	if amt.Sign() > 0 {
		if err := l.reward.Mint(tx, l.addr, caller, amt); err != nil {
			return nil, err
		}
	}
	// A clock that steps back must not reopen seconds already paid for.
	if now := tx.Now(); now > pos.LastReleaseAt {
		pos.LastReleaseAt = now
	}
	if err := tx.PutJSON(l.positionKey(id), pos); err != nil {
		return nil, err
	}
	return amt, nil
}

// Unstake settles outstanding rewards, then returns each asset to the caller.
// It returns the total reward minted.
func (l *Ledger) Unstake(ctx context.Context, caller common.Address, ids []uint64) (*big.Int, error) {
	if err := checkBatch(ids); err != nil {
		return nil, err
	}
	total := new(big.Int)
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		total.SetInt64(0)
		for _, id := range ids {
			amt, err := l.release(tx, caller, id)
			if err != nil {
				return fmt.Errorf("unstake %d: %w", id, err)
			}
			total.Add(total, amt)
			if err := l.assets.TransferFrom(tx, l.addr, l.addr, caller, id); err != nil {
				return fmt.Errorf("unstake %d: %w", id, err)
			}
			tx.Delete(l.positionKey(id))
			if err := l.index(tx, caller, id, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("assets unstaked",
		zap.String("owner", caller.Hex()),
		zap.Uint64s("ids", ids),
		zap.String("amount", total.String()),
	)
	return total, nil
}

// UnstakeAll unstakes every asset the caller has staked.
func (l *Ledger) UnstakeAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	ids, err := l.TokensStaked(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return new(big.Int), nil
	}
	return l.Unstake(ctx, caller, ids)
}

// Releaseable is the reward id has accrued since its last release. It fails
// with ErrNotStaked when id is not staked.
func (l *Ledger) Releaseable(ctx context.Context, id uint64) (*big.Int, error) {
	var amt *big.Int
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		pos, err := l.position(tx, id)
		if err != nil {
			return err
		}
		if pos.StakedAt == 0 {
			return ledger.ErrNotStaked
		}
		amt = l.accrued(pos, tx.Now())
		return nil
	})
	return amt, err
}

// StakedSince is the stake timestamp of id, or 0 if it is not staked.
func (l *Ledger) StakedSince(ctx context.Context, id uint64) (int64, error) {
	pos, err := l.Position(ctx, id)
	return pos.StakedAt, err
}

func (l *Ledger) Staked(ctx context.Context, id uint64) (bool, error) {
	since, err := l.StakedSince(ctx, id)
	return since != 0, err
}

// Position returns the stored position; the zero Position when unstaked.
func (l *Ledger) Position(ctx context.Context, id uint64) (Position, error) {
	var pos Position
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		var err error
		pos, err = l.position(tx, id)
		return err
	})
	return pos, err
}

func (l *Ledger) TokensStaked(ctx context.Context, owner common.Address) ([]uint64, error) {
	var ids []uint64
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		_, err := tx.GetJSON(l.stakedKey(owner), &ids)
		return err
	})
	return ids, err
}

// OwnerTokens lists what owner has staked here and what it still holds.
func (l *Ledger) OwnerTokens(ctx context.Context, owner common.Address) (Holdings, error) {
	var h Holdings
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.GetJSON(l.stakedKey(owner), &h.Staked); err != nil {
			return err
		}
		held, err := l.assets.TokensOf(tx, owner)
		h.Unstaked = held
		return err
	})
	return h, err
}

func (l *Ledger) position(tx *ledger.Tx, id uint64) (Position, error) {
	var pos Position
	if _, err := tx.GetJSON(l.positionKey(id), &pos); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// accrued is rate * (now - lastReleaseAt), never negative.
func (l *Ledger) accrued(pos Position, now int64) *big.Int {
	elapsed := now - pos.LastReleaseAt
	if elapsed <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Mul(l.rate, big.NewInt(elapsed))
}

func (l *Ledger) index(tx *ledger.Tx, owner common.Address, id uint64, add bool) error {
	var ids []uint64
	if _, err := tx.GetJSON(l.stakedKey(owner), &ids); err != nil {
		return err
	}
	i, found := slices.BinarySearch(ids, id)
	switch {
	case add && !found:
		ids = slices.Insert(ids, i, id)
	case !add && found:
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		tx.Delete(l.stakedKey(owner))
		return nil
	}
	return tx.PutJSON(l.stakedKey(owner), ids)
}

func checkBatch(ids []uint64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no asset ids", ledger.ErrInvalidAmount)
	}
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate asset id %d", ledger.ErrInvalidAmount, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
