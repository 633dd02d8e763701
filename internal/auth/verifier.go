package auth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
)

// Recoverer recovers the address that produced sig over digest.
type Recoverer interface {
	Recover(digest common.Hash, sig []byte) (common.Address, error)
}

// Authorizer is the capability-set view the verifier consults.
type Authorizer interface {
	IsAuthorized(tx *ledger.Tx, role common.Hash, addr common.Address) (bool, error)
}

// Verifier checks voucher signatures against the holders of a role.
type Verifier struct {
	roles     Authorizer
	recoverer Recoverer
}

// NewVerifier defaults to PersonalSignRecoverer when rec is nil.
func NewVerifier(roles Authorizer, rec Recoverer) *Verifier {
	if rec == nil {
		rec = PersonalSignRecoverer{}
	}
	return &Verifier{roles: roles, recoverer: rec}
}

// Verify returns the signer when it currently holds role.
func (v *Verifier) Verify(tx *ledger.Tx, digest common.Hash, sig []byte, role common.Hash) (common.Address, error) {
	signer, err := v.recoverer.Recover(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrInvalidSignature, err)
	}
	ok, err := v.roles.IsAuthorized(tx, role, signer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s is not %s", ledger.ErrInvalidSignature, signer.Hex(), roles.Name(role))
	}
	return signer, nil
}
