// Package token is the fungible-token registry that reward and bridge
// ledgers mint into and burn from.
package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
)

// Token is one fungible token contract. Minting needs MINTER_ROLE and
// burning needs BURNER_ROLE on the token's own role set.
type Token struct {
	addr  common.Address
	roles *roles.Roles
}

func New(addr common.Address) *Token {
	return &Token{addr: addr, roles: roles.New(addr)}
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Roles() *roles.Roles     { return t.roles }

func (t *Token) balanceKey(a common.Address) string {
	return ledger.Key("token", ledger.AddrKey(t.addr), "balance", ledger.AddrKey(a))
}

func (t *Token) allowanceKey(owner, spender common.Address) string {
	return ledger.Key("token", ledger.AddrKey(t.addr), "allowance", ledger.AddrKey(owner), ledger.AddrKey(spender))
}

func (t *Token) supplyKey() string {
	return ledger.Key("token", ledger.AddrKey(t.addr), "supply")
}

func (t *Token) BalanceOf(tx *ledger.Tx, a common.Address) (*big.Int, error) {
	return tx.GetBig(t.balanceKey(a))
}

func (t *Token) TotalSupply(tx *ledger.Tx) (*big.Int, error) {
	return tx.GetBig(t.supplyKey())
}

func (t *Token) Allowance(tx *ledger.Tx, owner, spender common.Address) (*big.Int, error) {
	return tx.GetBig(t.allowanceKey(owner, spender))
}

func (t *Token) Mint(tx *ledger.Tx, operator, to common.Address, amount *big.Int) error {
	if err := t.roles.Require(tx, roles.MinterRole, operator); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if err := t.add(tx, t.balanceKey(to), amount); err != nil {
		return err
	}
	return t.add(tx, t.supplyKey(), amount)
}

func (t *Token) Burn(tx *ledger.Tx, operator, from common.Address, amount *big.Int) error {
	if err := t.roles.Require(tx, roles.BurnerRole, operator); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if err := t.debit(tx, from, amount); err != nil {
		return err
	}
	return t.add(tx, t.supplyKey(), new(big.Int).Neg(amount))
}

func (t *Token) Transfer(tx *ledger.Tx, from, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if err := t.debit(tx, from, amount); err != nil {
		return err
	}
	return t.add(tx, t.balanceKey(to), amount)
}

func (t *Token) Approve(tx *ledger.Tx, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must not be negative", ledger.ErrInvalidAmount)
	}
	tx.PutBig(t.allowanceKey(owner, spender), amount)
	return nil
}

// TransferFrom moves amount from owner to to, spending spender's allowance.
func (t *Token) TransferFrom(tx *ledger.Tx, spender, owner, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	allowed, err := t.Allowance(tx, owner, spender)
	if err != nil {
		return err
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			ledger.ErrInsufficientAllowance, spender.Hex(), allowed, owner.Hex(), amount)
	}
	if err := t.Transfer(tx, owner, to, amount); err != nil {
		return err
	}
	tx.PutBig(t.allowanceKey(owner, spender), allowed.Sub(allowed, amount))
	return nil
}

func (t *Token) debit(tx *ledger.Tx, from common.Address, amount *big.Int) error {
	bal, err := t.BalanceOf(tx, from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ledger.ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	tx.PutBig(t.balanceKey(from), bal.Sub(bal, amount))
	return nil
}

func (t *Token) add(tx *ledger.Tx, key string, delta *big.Int) error {
	cur, err := tx.GetBig(key)
	if err != nil {
		return err
	}
	tx.PutBig(key, cur.Add(cur, delta))
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}
	return nil
}
