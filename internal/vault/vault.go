// Package vault holds assets in custody and releases them to the recipient
// named by a signed redeem voucher.
package vault

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/asset"
	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/authorizer"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/replay"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// Vault owns its custody assets on the registry directly; it needs no role
// there.
type Vault struct {
	host    *ledger.Host
	addr    common.Address
	assets  *asset.Registry
	roles   *roles.Roles
	redeems *authorizer.Authorizer
	log     *zap.Logger
}

func New(host *ledger.Host, addr common.Address, assets *asset.Registry, rec auth.Recoverer, log *zap.Logger) *Vault {
	r := roles.New(addr)
	return &Vault{
		host:    host,
		addr:    addr,
		assets:  assets,
		roles:   r,
		redeems: authorizer.New(auth.NewVerifier(r, rec), replay.New(addr, voucher.TagRedeem)),
		log:     log,
	}
}

func (v *Vault) Address() common.Address { return v.addr }
func (v *Vault) Roles() *roles.Roles     { return v.roles }
func (v *Vault) Assets() *asset.Registry { return v.assets }

func (v *Vault) custodyKey(id uint64) string {
	return ledger.Key("vault", ledger.AddrKey(v.addr), "custody", strconv.FormatUint(id, 10))
}

// TransferIn places id in custody. The asset is pulled from from unless the
// vault already owns it; a pull needs from's approval for the vault.
// CURATOR_ROLE only.
func (v *Vault) TransferIn(ctx context.Context, caller, from common.Address, id uint64) error {
	err := v.host.Execute(ctx, func(tx *ledger.Tx) error {
		if err := v.roles.Require(tx, roles.CuratorRole, caller); err != nil {
			return err
		}
		owner, err := v.assets.OwnerOf(tx, id)
		if err != nil {
			return err
		}
		if owner != v.addr {
			if err := v.assets.TransferFrom(tx, v.addr, from, v.addr, id); err != nil {
				return err
			}
		}
		tx.Put(v.custodyKey(id), []byte{1})
		return nil
	})
	if err != nil {
		return err
	}
	v.log.Info("asset taken into custody",
		zap.String("from", from.Hex()),
		zap.Uint64("id", id),
	)
	return nil
}

// Redeem releases id to recipient against a ("redeem", recipient, tokenId)
// voucher from a SIGNER_ROLE holder. Anyone may submit it, once.
func (v *Vault) Redeem(ctx context.Context, caller, recipient common.Address, id uint64, sig []byte) error {
	err := v.host.Execute(ctx, func(tx *ledger.Tx) error {
		grant, err := v.redeems.Authorize(tx, authorizer.Request{
			Voucher:   voucher.VaultRedeem(recipient, id),
			Signature: sig,
			Role:      roles.SignerRole,
		})
		if err != nil {
			return err
		}
		return v.release(tx, grant.Recipient, id)
	})
	if err != nil {
		v.log.Warn("voucher rejected",
			zap.String("flow", "vault"),
			zap.String("recipient", recipient.Hex()),
			zap.String("kind", ledger.Kind(err)),
			zap.Error(err),
		)
		return err
	}
	v.log.Info("vault voucher redeemed",
		zap.String("caller", caller.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.Uint64("id", id),
	)
	return nil
}

// TransferOut releases id without a voucher. CURATOR_ROLE only.
func (v *Vault) TransferOut(ctx context.Context, caller, to common.Address, id uint64) error {
	err := v.host.Execute(ctx, func(tx *ledger.Tx) error {
		if err := v.roles.Require(tx, roles.CuratorRole, caller); err != nil {
			return err
		}
		return v.release(tx, to, id)
	})
	if err != nil {
		return err
	}
	v.log.Info("asset released", zap.String("to", to.Hex()), zap.Uint64("id", id))
	return nil
}

func (v *Vault) release(tx *ledger.Tx, to common.Address, id uint64) error {
	held, err := tx.Has(v.custodyKey(id))
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: token %d is not in custody", ledger.ErrNotFound, id)
	}
	if err := v.assets.TransferFrom(tx, v.addr, v.addr, to, id); err != nil {
		return err
	}
	tx.Delete(v.custodyKey(id))
	return nil
}

// InCustody reports whether id is held by the vault.
func (v *Vault) InCustody(ctx context.Context, id uint64) (bool, error) {
	var held bool
	err := v.host.View(ctx, func(tx *ledger.Tx) error {
		var err error
		held, err = tx.Has(v.custodyKey(id))
		return err
	})
	return held, err
}
