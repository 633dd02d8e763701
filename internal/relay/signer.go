package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// QueueKey is the signed-voucher queue of a destination bridge.
func QueueKey(dest common.Address) string {
	return fmt.Sprintf(voucher.VoucherQueueKeyFmt, ledger.AddrKey(dest))
}

// DLQKey holds vouchers the destination refused for a reason retrying cannot fix.
func DLQKey(dest common.Address) string {
	return fmt.Sprintf(voucher.VoucherDLQKeyFmt, ledger.AddrKey(dest))
}

// CursorKey is the highest transfer id of src already signed.
func CursorKey(src common.Address) string {
	return fmt.Sprintf(voucher.RelayCursorKeyFmt, ledger.AddrKey(src))
}

// Signer holds the off-chain signing key: it signs secure bridge vouchers and
// pushes them onto the destination's queue in Redis.
type Signer struct {
	privKey *ecdsa.PrivateKey
	addr    common.Address
	rdb     *redis.Client
}

func NewSigner(privKey *ecdsa.PrivateKey, rdb *redis.Client) *Signer {
	return &Signer{
		privKey: privKey,
		addr:    crypto.PubkeyToAddress(privKey.PublicKey),
		rdb:     rdb,
	}
}

func (s *Signer) Address() common.Address { return s.addr }

// SignBridge signs a secure voucher for t. The sender of the burn is the only
// recipient the voucher allows.
func (s *Signer) SignBridge(t bridge.Transfer) (*voucher.BridgeVoucher, error) {
	bv := &voucher.BridgeVoucher{
		SourceChainID: t.SourceChainID,
		ChainID:       t.DestinationChainID,
		Contract:      t.DestinationContract,
		ID:            t.ID,
		Amount:        t.Amount,
		Recipient:     t.Sender,
		Secure:        true,
	}
	sig, err := voucher.Sign(bv.Voucher().Digest(), s.privKey)
	if err != nil {
		return nil, fmt.Errorf("sign voucher: %w", err)
	}
	bv.Signature = sig
	return bv, nil
}

// SignAndEnqueue signs t and pushes it onto its destination's queue.
func (s *Signer) SignAndEnqueue(ctx context.Context, source common.Address, t bridge.Transfer) (*voucher.BridgeVoucher, error) {
	bv, err := s.SignBridge(t)
	if err != nil {
		return nil, err
	}
	bv.Source = source
	raw, err := json.Marshal(bv)
	if err != nil {
		return nil, fmt.Errorf("marshal voucher: %w", err)
	}
	if err := s.rdb.RPush(ctx, QueueKey(bv.Contract), string(raw)).Err(); err != nil {
		return nil, fmt.Errorf("enqueue voucher: %w", err)
	}
	return bv, nil
}
