// Package asset is the NFT registry that staking takes custody from and the
// collection mints into.
package asset

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
)

// Registry is one NFT contract. Token ids are sequential from 1.
type Registry struct {
	addr  common.Address
	roles *roles.Roles
}

func New(addr common.Address) *Registry {
	return &Registry{addr: addr, roles: roles.New(addr)}
}

func (r *Registry) Address() common.Address { return r.addr }
func (r *Registry) Roles() *roles.Roles     { return r.roles }

func (r *Registry) key(parts ...string) string {
	return ledger.Key(append([]string{"asset", ledger.AddrKey(r.addr)}, parts...)...)
}

func idKey(id uint64) string { return strconv.FormatUint(id, 10) }

// Mint creates the next token for to. operator must hold MINTER_ROLE.
func (r *Registry) Mint(tx *ledger.Tx, operator, to common.Address, uri string) (uint64, error) {
	if err := r.roles.Require(tx, roles.MinterRole, operator); err != nil {
		return 0, err
	}
	last, err := tx.GetBig(r.key("last"))
	if err != nil {
		return 0, err
	}
	id := last.Uint64() + 1
	tx.PutBig(r.key("last"), last.SetUint64(id))
	tx.Put(r.key("owner", idKey(id)), to.Bytes())
	if uri != "" {
		tx.Put(r.key("uri", idKey(id)), []byte(uri))
	}
	if err := r.index(tx, to, id, true); err != nil {
		return 0, err
	}
	return id, nil
}

// OwnerOf fails with ErrNotFound for an id that was never minted.
func (r *Registry) OwnerOf(tx *ledger.Tx, id uint64) (common.Address, error) {
	raw, ok, err := tx.Get(r.key("owner", idKey(id)))
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: token %d", ledger.ErrNotFound, id)
	}
	return common.BytesToAddress(raw), nil
}

func (r *Registry) TokenURI(tx *ledger.Tx, id uint64) (string, error) {
	if _, err := r.OwnerOf(tx, id); err != nil {
		return "", err
	}
	raw, _, err := tx.Get(r.key("uri", idKey(id)))
	return string(raw), err
}

// Approve lets spender move one token. Only the owner or one of its
// operators may approve.
func (r *Registry) Approve(tx *ledger.Tx, caller, spender common.Address, id uint64) error {
	owner, err := r.OwnerOf(tx, id)
	if err != nil {
		return err
	}
	if caller != owner {
		ok, err := r.IsApprovedForAll(tx, owner, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s cannot approve token %d", ledger.ErrNotOwner, caller.Hex(), id)
		}
	}
	tx.Put(r.key("approved", idKey(id)), spender.Bytes())
	return nil
}

func (r *Registry) GetApproved(tx *ledger.Tx, id uint64) (common.Address, error) {
	raw, _, err := tx.Get(r.key("approved", idKey(id)))
	return common.BytesToAddress(raw), err
}

func (r *Registry) SetApprovalForAll(tx *ledger.Tx, owner, operator common.Address, approved bool) {
	k := r.key("operator", ledger.AddrKey(owner), ledger.AddrKey(operator))
	if approved {
		tx.Put(k, []byte{1})
		return
	}
	tx.Delete(k)
}

func (r *Registry) IsApprovedForAll(tx *ledger.Tx, owner, operator common.Address) (bool, error) {
	return tx.Has(r.key("operator", ledger.AddrKey(owner), ledger.AddrKey(operator)))
}

// TransferFrom moves id from from to to on behalf of operator, who must be
// the owner, the token's approved spender, or an approved operator.
func (r *Registry) TransferFrom(tx *ledger.Tx, operator, from, to common.Address, id uint64) error {
	owner, err := r.OwnerOf(tx, id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: token %d is held by %s", ledger.ErrNotOwner, id, owner.Hex())
	}
	if operator != owner {
		approved, err := r.GetApproved(tx, id)
		if err != nil {
			return err
		}
		all, err := r.IsApprovedForAll(tx, owner, operator)
		if err != nil {
			return err
		}
		if approved != operator && !all {
			return fmt.Errorf("%w: %s is not approved for token %d", ledger.ErrNotOwner, operator.Hex(), id)
		}
	}

	tx.Delete(r.key("approved", idKey(id)))
	tx.Put(r.key("owner", idKey(id)), to.Bytes())
	if err := r.index(tx, from, id, false); err != nil {
		return err
	}
	return r.index(tx, to, id, true)
}

// TokensOf lists the ids held by owner in ascending order.
func (r *Registry) TokensOf(tx *ledger.Tx, owner common.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := tx.GetJSON(r.key("tokens", ledger.AddrKey(owner)), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Registry) index(tx *ledger.Tx, owner common.Address, id uint64, add bool) error {
	ids, err := r.TokensOf(tx, owner)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearch(ids, id)
	switch {
	case add && !found:
		ids = slices.Insert(ids, i, id)
	case !add && found:
		ids = slices.Delete(ids, i, i+1)
	default:
		return nil
	}
	k := r.key("tokens", ledger.AddrKey(owner))
	if len(ids) == 0 {
		tx.Delete(k)
		return nil
	}
	return tx.PutJSON(k, ids)
}
