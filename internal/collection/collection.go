// Package collection mints NFTs against signed whitelist and ambassador
// vouchers.
package collection

import (
	"context"
	"fmt"

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

// AmbassadorTokens and GiftTokens are minted per redeemable voucher with the
// ambassador flag set and unset respectively.
const (
	AmbassadorTokens = 1
	GiftTokens       = 4
)

type Config struct {
	Address       common.Address
	MaxPerVoucher int
	PreviewURI    string
}

// Collection must hold MINTER_ROLE on its asset registry.
type Collection struct {
	host       *ledger.Host
	cfg        Config
	assets     *asset.Registry
	roles      *roles.Roles
	whitelist  *authorizer.Authorizer
	redeemable *authorizer.Authorizer
	log        *zap.Logger
}

func New(host *ledger.Host, cfg Config, assets *asset.Registry, rec auth.Recoverer, log *zap.Logger) *Collection {
	if cfg.MaxPerVoucher <= 0 {
		cfg.MaxPerVoucher = 5
	}
	r := roles.New(cfg.Address)
	v := auth.NewVerifier(r, rec)
	return &Collection{
		host:       host,
		cfg:        cfg,
		assets:     assets,
		roles:      r,
		whitelist:  authorizer.New(v, replay.New(cfg.Address, voucher.TagAuthorized)),
		redeemable: authorizer.New(v, replay.New(cfg.Address, voucher.TagRedeemable)),
		log:        log,
	}
}

func (c *Collection) Address() common.Address { return c.cfg.Address }
func (c *Collection) Roles() *roles.Roles     { return c.roles }
func (c *Collection) Assets() *asset.Registry { return c.assets }

// Authorize redeems the caller's whitelist voucher for quantity tokens.
// Each recipient's voucher works once.
func (c *Collection) Authorize(ctx context.Context, caller common.Address, quantity int, sig []byte) ([]uint64, error) {
	if quantity < 1 || quantity > c.cfg.MaxPerVoucher {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ledger.ErrInvalidAmount, c.cfg.MaxPerVoucher)
	}
	var ids []uint64
	err := c.host.Execute(ctx, func(tx *ledger.Tx) error {
		grant, err := c.whitelist.Authorize(tx, authorizer.Request{
			Voucher:   voucher.Authorized(caller),
			Signature: sig,
			Role:      roles.SignerRole,
		})
		if err != nil {
			return err
		}
		ids, err = c.mint(tx, grant.Recipient, quantity, "")
		return err
	})
	if err != nil {
		c.rejected("whitelist", caller, err)
		return nil, err
	}
	c.log.Info("whitelist voucher redeemed",
		zap.String("recipient", caller.Hex()),
		zap.Uint64s("ids", ids),
	)
	return ids, nil
}

// Redeem mints against an ambassador voucher. Anyone may submit it; tokens go
// to the recipient the voucher names. The first token carries uri.
func (c *Collection) Redeem(ctx context.Context, caller, recipient common.Address, uri string, ambassador bool, sig []byte) ([]uint64, error) {
	count := GiftTokens
	if ambassador {
		count = AmbassadorTokens
	}
	var ids []uint64
	err := c.host.Execute(ctx, func(tx *ledger.Tx) error {
		grant, err := c.redeemable.Authorize(tx, authorizer.Request{
			Voucher:   voucher.Redeemable(uri, recipient, ambassador),
			Signature: sig,
			Role:      roles.SignerRole,
		})
		if err != nil {
			return err
		}
		ids, err = c.mint(tx, grant.Recipient, count, uri)
		return err
	})
	if err != nil {
		c.rejected("redeemable", recipient, err)
		return nil, err
	}
	c.log.Info("redeemable voucher redeemed",
		zap.String("caller", caller.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.Bool("ambassador", ambassador),
		zap.Uint64s("ids", ids),
	)
	return ids, nil
}

func (c *Collection) mint(tx *ledger.Tx, to common.Address, n int, firstURI string) ([]uint64, error) {
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		uri := c.cfg.PreviewURI
		if i == 0 && firstURI != "" {
			uri = firstURI
		}
		id, err := c.assets.Mint(tx, c.cfg.Address, to, uri)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) rejected(flow string, recipient common.Address, err error) {
	c.log.Warn("voucher rejected",
		zap.String("flow", flow),
		zap.String("recipient", recipient.Hex()),
		zap.String("kind", ledger.Kind(err)),
		zap.Error(err),
	)
}
