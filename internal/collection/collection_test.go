package collection

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/asset"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

const preview = "https://ipfs.io/ipfs/Qm123abc/preview.json"

var (
	collectionAddr = common.HexToAddress("0x00000000000000000000000000000000000000CC")
	nftAddr        = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	admin          = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ambassador1    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	ambassador2    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

type fixture struct {
	host   *ledger.Host
	assets *asset.Registry
	c      *Collection
	key    *ecdsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	host := ledger.NewHost(ledger.NewMemStore(), ledger.NewManualClock(0))
	assets := asset.New(nftAddr)
	c := New(host, Config{Address: collectionAddr, MaxPerVoucher: 5, PreviewURI: preview}, assets, nil, zap.NewNop())

	require.NoError(t, host.Execute(context.Background(), func(tx *ledger.Tx) error {
		assets.Roles().Bootstrap(tx, admin)
		c.Roles().Bootstrap(tx, admin)
		if err := assets.Roles().Grant(tx, admin, roles.MinterRole, collectionAddr); err != nil {
			return err
		}
		return c.Roles().Grant(tx, admin, roles.SignerRole, crypto.PubkeyToAddress(key.PublicKey))
	}))
	return &fixture{host: host, assets: assets, c: c, key: key}
}

func (f *fixture) sign(t *testing.T, v voucher.Voucher) []byte {
	t.Helper()
	sig, err := voucher.Sign(v.Digest(), f.key)
	require.NoError(t, err)
	return sig
}

func (f *fixture) uri(t *testing.T, id uint64) string {
	t.Helper()
	var u string
	require.NoError(t, f.host.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		u, err = f.assets.TokenURI(tx, id)
		return err
	}))
	return u
}

func (f *fixture) tokensOf(t *testing.T, owner common.Address) []uint64 {
	t.Helper()
	var ids []uint64
	require.NoError(t, f.host.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		ids, err = f.assets.TokensOf(tx, owner)
		return err
	}))
	return ids
}

func TestRedeem_GiftAndAmbassador(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := f.sign(t, voucher.Redeemable("ipfs://amb1", ambassador1, false))
	ids, err := f.c.Redeem(ctx, ambassador1, ambassador1, "ipfs://amb1", false, sig)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ids)
	assert.Equal(t, "ipfs://amb1", f.uri(t, 1))
	assert.Equal(t, preview, f.uri(t, 2))
	assert.Equal(t, preview, f.uri(t, 4))

	sig2 := f.sign(t, voucher.Redeemable("ipfs://amb2", ambassador2, true))
	ids, err = f.c.Redeem(ctx, ambassador2, ambassador2, "ipfs://amb2", true, sig2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, ids)
	assert.Equal(t, "ipfs://amb2", f.uri(t, 5))

	_, err = f.c.Redeem(ctx, ambassador1, ambassador1, "ipfs://amb1", false, sig)
	require.ErrorIs(t, err, ledger.ErrAlreadyConsumed)
	assert.Len(t, f.tokensOf(t, ambassador1), 4)
}

func TestRedeem_FlagIsSigned(t *testing.T) {
	f := newFixture(t)
	sig := f.sign(t, voucher.Redeemable("ipfs://amb1", ambassador1, true))
	_, err := f.c.Redeem(context.Background(), ambassador1, ambassador1, "ipfs://amb1", false, sig)
	require.ErrorIs(t, err, ledger.ErrInvalidSignature)
	assert.Empty(t, f.tokensOf(t, ambassador1))
}

func TestAuthorize_Whitelist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := f.sign(t, voucher.Authorized(ambassador1))

	_, err := f.c.Authorize(ctx, ambassador1, 6, sig)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.c.Authorize(ctx, ambassador1, 0, sig)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	// A voucher for someone else does not authorize the caller.
	_, err = f.c.Authorize(ctx, ambassador2, 2, sig)
	require.ErrorIs(t, err, ledger.ErrInvalidSignature)

	ids, err := f.c.Authorize(ctx, ambassador1, 2, sig)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	_, err = f.c.Authorize(ctx, ambassador1, 1, sig)
	require.ErrorIs(t, err, ledger.ErrAlreadyConsumed)
}

func TestAuthorize_UnauthorizedSigner(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := voucher.Sign(voucher.Authorized(ambassador1).Digest(), other)
	require.NoError(t, err)

	_, err = f.c.Authorize(context.Background(), ambassador1, 1, sig)
	require.ErrorIs(t, err, ledger.ErrInvalidSignature)
}
