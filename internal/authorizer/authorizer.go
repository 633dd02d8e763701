// Package authorizer verifies a signed voucher and consumes it in one step.
// Callers act on the returned Grant only after Authorize succeeds.
package authorizer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/replay"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// Verifier is satisfied by *auth.Verifier.
type Verifier interface {
	Verify(tx *ledger.Tx, digest common.Hash, sig []byte, role common.Hash) (common.Address, error)
}

// Request is a voucher presented for redemption. ID, when set, is the
// explicit replay slot; otherwise the slot is derived from recipient and
// digest.
type Request struct {
	Voucher   voucher.Voucher
	Signature []byte
	Role      common.Hash
	ID        *common.Hash
}

// Grant is what a successful authorization hands back to the caller.
type Grant struct {
	Signer    common.Address
	Recipient common.Address
	Digest    common.Hash
	Slot      common.Hash
}

type Authorizer struct {
	verifier Verifier
	guard    *replay.Guard
}

func New(v Verifier, guard *replay.Guard) *Authorizer {
	return &Authorizer{verifier: v, guard: guard}
}

// Authorize fails with ErrInvalidSignature or ErrAlreadyConsumed. On success
// the voucher's replay slot is consumed within tx.
func (a *Authorizer) Authorize(tx *ledger.Tx, req Request) (Grant, error) {
	digest := req.Voucher.Digest()
	signer, err := a.verifier.Verify(tx, digest, req.Signature, req.Role)
	if err != nil {
		return Grant{}, err
	}

	slot := replay.ContentID(req.Voucher.Recipient, digest)
	if req.ID != nil {
		slot = *req.ID
	}
	if err := a.guard.Consume(tx, slot); err != nil {
		return Grant{}, err
	}
	return Grant{Signer: signer, Recipient: req.Voucher.Recipient, Digest: digest, Slot: slot}, nil
}

// Slot returns the explicit-id pointer form expected by Request.ID.
func Slot(id uint64) *common.Hash {
	h := replay.ExplicitID(id)
	return &h
}
