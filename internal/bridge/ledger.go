// Package bridge burns tokens on a source ledger and mints them on a
// destination ledger against a signed redemption voucher.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/authorizer"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/replay"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/token"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// Transfer is a burn recorded on the source side, waiting to be redeemed on
// its destination.
type Transfer struct {
	ID                  uint64         `json:"id"`
	SourceChainID       uint64         `json:"source_chain_id"`
	DestinationChainID  uint64         `json:"destination_chain_id"`
	DestinationContract common.Address `json:"destination_contract"`
	Sender              common.Address `json:"sender"`
	Amount              *big.Int       `json:"amount"`
	RequestedAt         int64          `json:"requested_at"`
	Consumed            bool           `json:"consumed"`
}

// RedeemRequest presents a voucher to this ledger. ChainID and Contract are
// optional; when set they must name this ledger.
type RedeemRequest struct {
	ChainID   uint64
	Contract  common.Address
	ID        uint64
	Amount    *big.Int
	Recipient common.Address
	Signature []byte
}

// Ledger is one bridge contract on one chain. It must hold MINTER_ROLE and
// BURNER_ROLE on its token.
type Ledger struct {
	host    *ledger.Host
	chainID uint64
	addr    common.Address
	token   *token.Token
	roles   *roles.Roles
	auth    *authorizer.Authorizer
	log     *zap.Logger
}

// New wires a bridge. rec may be nil to use personal-sign recovery.
func New(host *ledger.Host, chainID uint64, addr common.Address, tok *token.Token, rec auth.Recoverer, log *zap.Logger) *Ledger {
	r := roles.New(addr)
	return &Ledger{
		host:    host,
		chainID: chainID,
		addr:    addr,
		token:   tok,
		roles:   r,
		auth:    authorizer.New(auth.NewVerifier(r, rec), replay.New(addr, voucher.TagRedeem)),
		log:     log,
	}
}

func (l *Ledger) ChainID() uint64         { return l.chainID }
func (l *Ledger) Address() common.Address { return l.addr }
func (l *Ledger) Roles() *roles.Roles     { return l.roles }
func (l *Ledger) Host() *ledger.Host      { return l.host }
func (l *Ledger) Token() *token.Token     { return l.token }

func (l *Ledger) key(parts ...string) string {
	return ledger.Key(append([]string{"bridge", ledger.AddrKey(l.addr)}, parts...)...)
}

func (l *Ledger) transferKey(id uint64) string {
	return l.key("transfer", strconv.FormatUint(id, 10))
}

// AddDestination registers or overwrites the bridge expected on chainID.
// Entries are never removed.
func (l *Ledger) AddDestination(ctx context.Context, caller common.Address, chainID uint64, contract common.Address) error {
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		return l.SetDestination(tx, caller, chainID, contract)
	})
	if err != nil {
		return err
	}
	l.log.Info("bridge destination set",
		zap.Uint64("chain_id", chainID),
		zap.String("contract", contract.Hex()),
	)
	return nil
}

// SetDestination is AddDestination inside an existing transition.
func (l *Ledger) SetDestination(tx *ledger.Tx, caller common.Address, chainID uint64, contract common.Address) error {
	if err := l.roles.Require(tx, roles.CuratorRole, caller); err != nil {
		return err
	}
	tx.Put(l.key("destination", strconv.FormatUint(chainID, 10)), contract.Bytes())
	return nil
}

// Destination returns the registered bridge for chainID.
func (l *Ledger) Destination(ctx context.Context, chainID uint64) (common.Address, bool, error) {
	var (
		addr common.Address
		ok   bool
	)
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		var err error
		addr, ok, err = l.destination(tx, chainID)
		return err
	})
	return addr, ok, err
}

func (l *Ledger) destination(tx *ledger.Tx, chainID uint64) (common.Address, bool, error) {
	raw, ok, err := tx.Get(l.key("destination", strconv.FormatUint(chainID, 10)))
	if err != nil || !ok {
		return common.Address{}, ok, err
	}
	return common.BytesToAddress(raw), true, nil
}

// RequestTransfer burns amount from caller and records a transfer to the
// registered destination. The destination is checked before anything is
// burned.
func (l *Ledger) RequestTransfer(ctx context.Context, caller common.Address, destChainID uint64, destContract common.Address, amount *big.Int) (Transfer, error) {
	var t Transfer
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		registered, ok, err := l.destination(tx, destChainID)
		if err != nil {
			return err
		}
		if !ok || registered != destContract {
			return fmt.Errorf("%w: chain %d contract %s", ledger.ErrInvalidDestination, destChainID, destContract.Hex())
		}
		if err := l.token.Burn(tx, l.addr, caller, amount); err != nil {
			return err
		}

		last, err := tx.GetBig(l.key("last"))
		if err != nil {
			return err
		}
		t = Transfer{
			ID:                  last.Uint64() + 1,
			SourceChainID:       l.chainID,
			DestinationChainID:  destChainID,
			DestinationContract: destContract,
			Sender:              caller,
			Amount:              new(big.Int).Set(amount),
			RequestedAt:         tx.Now(),
		}
		tx.PutBig(l.key("last"), new(big.Int).SetUint64(t.ID))
		return tx.PutJSON(l.transferKey(t.ID), t)
	})
	if err != nil {
		return Transfer{}, err
	}
	l.log.Info("bridge transfer requested",
		zap.Uint64("id", t.ID),
		zap.String("sender", caller.Hex()),
		zap.Uint64("destination_chain_id", destChainID),
		zap.String("destination", destContract.Hex()),
		zap.String("amount", amount.String()),
	)
	return t, nil
}

// Redeem mints a transfer on this ledger against a voucher over
// (chainId, this, id, amount). The recipient is the presenter's choice.
func (l *Ledger) Redeem(ctx context.Context, req RedeemRequest) error {
	return l.redeem(ctx, req, false)
}

// SecureRedeem is Redeem with the recipient bound by the voucher. Only a
// CURATOR_ROLE holder may submit it.
func (l *Ledger) SecureRedeem(ctx context.Context, caller common.Address, req RedeemRequest) error {
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		return l.roles.Require(tx, roles.CuratorRole, caller)
	})
	if err != nil {
		return err
	}
	return l.redeem(ctx, req, true)
}

func (l *Ledger) redeem(ctx context.Context, req RedeemRequest, secure bool) error {
	if (req.ChainID != 0 && req.ChainID != l.chainID) || (req.Contract != (common.Address{}) && req.Contract != l.addr) {
		return fmt.Errorf("%w: voucher names chain %d contract %s", ledger.ErrInvalidDestination, req.ChainID, req.Contract.Hex())
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}

	v := voucher.BridgeRedeem(l.chainID, l.addr, req.ID, req.Amount, req.Recipient)
	if secure {
		v = voucher.SecureBridgeRedeem(l.chainID, l.addr, req.ID, req.Amount, req.Recipient)
	}

	var signer common.Address
	err := l.host.Execute(ctx, func(tx *ledger.Tx) error {
		grant, err := l.auth.Authorize(tx, authorizer.Request{
			Voucher:   v,
			Signature: req.Signature,
			Role:      roles.SignerRole,
			ID:        authorizer.Slot(req.ID),
		})
		if err != nil {
			return err
		}
		signer = grant.Signer
		if err := l.token.Mint(tx, l.addr, req.Recipient, req.Amount); err != nil {
			return err
		}
		return l.markSelfTransfer(tx, req.ID)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidSignature) || errors.Is(err, ledger.ErrAlreadyConsumed) {
			l.log.Warn("bridge voucher rejected",
				zap.Uint64("id", req.ID),
				zap.String("kind", ledger.Kind(err)),
				zap.Error(err),
			)
		}
		return err
	}
	l.log.Info("bridge transfer redeemed",
		zap.Uint64("id", req.ID),
		zap.String("recipient", req.Recipient.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.String("signer", signer.Hex()),
		zap.Bool("secure", secure),
	)
	return nil
}

// markSelfTransfer consumes this ledger's own transfer record when the
// transfer was addressed to this ledger.
func (l *Ledger) markSelfTransfer(tx *ledger.Tx, id uint64) error {
	var t Transfer
	ok, err := tx.GetJSON(l.transferKey(id), &t)
	if err != nil || !ok {
		return err
	}
	if t.DestinationChainID != l.chainID || t.DestinationContract != l.addr {
		return nil
	}
	t.Consumed = true
	return tx.PutJSON(l.transferKey(id), t)
}

// LastID is the most recently allocated transfer id, 0 before the first.
func (l *Ledger) LastID(ctx context.Context) (uint64, error) {
	var id uint64
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		last, err := tx.GetBig(l.key("last"))
		id = last.Uint64()
		return err
	})
	return id, err
}

// Transfer returns a transfer requested on this ledger.
func (l *Ledger) Transfer(ctx context.Context, id uint64) (Transfer, error) {
	var t Transfer
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		ok, err := tx.GetJSON(l.transferKey(id), &t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: transfer %d", ledger.ErrNotFound, id)
		}
		return nil
	})
	return t, err
}

// TransfersAfter lists up to limit transfers with ids greater than after.
func (l *Ledger) TransfersAfter(ctx context.Context, after uint64, limit int) ([]Transfer, error) {
	var out []Transfer
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		last, err := tx.GetBig(l.key("last"))
		if err != nil {
			return err
		}
		for id := after + 1; id <= last.Uint64() && len(out) < limit; id++ {
			var t Transfer
			ok, err := tx.GetJSON(l.transferKey(id), &t)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

// IsRedeemed reports whether the id slot has been consumed on this ledger.
func (l *Ledger) IsRedeemed(ctx context.Context, id uint64) (bool, error) {
	var used bool
	err := l.host.View(ctx, func(tx *ledger.Tx) error {
		var err error
		used, err = replay.New(l.addr, voucher.TagRedeem).IsConsumed(tx, replay.ExplicitID(id))
		return err
	})
	return used, err
}
