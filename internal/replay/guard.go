// Package replay records consumed voucher ids. A record is written once and
// never removed.
package replay

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
)

// Guard is the consumed-id set of one contract and purpose.
type Guard struct {
	namespace string
}

// New scopes a guard to contract and purpose, e.g. (bridge, "redeem").
func New(contract common.Address, purpose string) *Guard {
	return &Guard{namespace: ledger.Key("consumed", ledger.AddrKey(contract), purpose)}
}

func (g *Guard) key(id common.Hash) string {
	return ledger.Key(g.namespace, id.Hex())
}

func (g *Guard) IsConsumed(tx *ledger.Tx, id common.Hash) (bool, error) {
	return tx.Has(g.key(id))
}

// Consume marks id consumed, failing with ErrAlreadyConsumed if it already is.
func (g *Guard) Consume(tx *ledger.Tx, id common.Hash) error {
	used, err := g.IsConsumed(tx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyConsumed, id.Hex())
	}
	tx.Put(g.key(id), []byte{1})
	return nil
}

// ExplicitID is the slot for a caller-supplied identifier such as a bridge
// transfer id.
func ExplicitID(id uint64) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], id)
	return h
}

// ContentID is the slot for a one-shot voucher: each recipient may redeem a
// given voucher content exactly once.
func ContentID(recipient common.Address, digest common.Hash) common.Hash {
	return crypto.Keccak256Hash(recipient.Bytes(), digest.Bytes())
}
