// Package roles holds per-contract capability sets: which addresses may act
// in which role. Role ids are keccak256 of the role name, matching the
// on-chain AccessControl convention, with the zero hash as the admin role.
package roles

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
)

var (
	DefaultAdminRole = common.Hash{}
	SignerRole       = ID("SIGNER_ROLE")
	CuratorRole      = ID("CURATOR_ROLE")
	MinterRole       = ID("MINTER_ROLE")
	BurnerRole       = ID("BURNER_ROLE")
)

var names = map[common.Hash]string{
	DefaultAdminRole: "DEFAULT_ADMIN_ROLE",
	SignerRole:       "SIGNER_ROLE",
	CuratorRole:      "CURATOR_ROLE",
	MinterRole:       "MINTER_ROLE",
	BurnerRole:       "BURNER_ROLE",
}

// ID returns the role identifier for a role name.
func ID(name string) common.Hash {
	if name == "" || name == "DEFAULT_ADMIN_ROLE" {
		return DefaultAdminRole
	}
	return crypto.Keccak256Hash([]byte(name))
}

// Name returns the role name for known roles and the hex id otherwise.
func Name(role common.Hash) string {
	if n, ok := names[role]; ok {
		return n
	}
	return role.Hex()
}

// Roles is the capability set of one contract.
type Roles struct {
	contract common.Address
}

func New(contract common.Address) *Roles {
	return &Roles{contract: contract}
}

func (r *Roles) Contract() common.Address { return r.contract }

func (r *Roles) key(role common.Hash, addr common.Address) string {
	return ledger.Key("roles", ledger.AddrKey(r.contract), role.Hex(), ledger.AddrKey(addr))
}

// IsAuthorized reports whether addr currently holds role.
func (r *Roles) IsAuthorized(tx *ledger.Tx, role common.Hash, addr common.Address) (bool, error) {
	return tx.Has(r.key(role, addr))
}

// Require fails with ErrUnauthorized unless addr holds role.
func (r *Roles) Require(tx *ledger.Tx, role common.Hash, addr common.Address) error {
	ok, err := r.IsAuthorized(tx, role, addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", ledger.ErrUnauthorized, addr.Hex(), Name(role))
	}
	return nil
}

// Bootstrap grants the admin role without a caller check. Deployment only.
func (r *Roles) Bootstrap(tx *ledger.Tx, admin common.Address) {
	tx.Put(r.key(DefaultAdminRole, admin), []byte{1})
}

// Grant gives role to addr. caller must hold the admin role.
func (r *Roles) Grant(tx *ledger.Tx, caller common.Address, role common.Hash, addr common.Address) error {
	if err := r.Require(tx, DefaultAdminRole, caller); err != nil {
		return err
	}
	tx.Put(r.key(role, addr), []byte{1})
	return nil
}

// Revoke removes role from addr. caller must hold the admin role.
func (r *Roles) Revoke(tx *ledger.Tx, caller common.Address, role common.Hash, addr common.Address) error {
	if err := r.Require(tx, DefaultAdminRole, caller); err != nil {
		return err
	}
	tx.Delete(r.key(role, addr))
	return nil
}

// Renounce drops role from caller itself.
func (r *Roles) Renounce(tx *ledger.Tx, caller common.Address, role common.Hash) {
	tx.Delete(r.key(role, caller))
}
