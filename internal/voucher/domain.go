package voucher

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
)

// Domain tags. Each voucher purpose hashes its own tag at the front of the
// preimage so a voucher signed for one purpose cannot be presented as another.
const (
	TagAuthorized = "authorized"
	TagRedeemable = "redeemable"
	TagRedeem     = "redeem"
)

type kind uint8

const (
	kindString kind = iota
	kindAddress
	kindBool
	kindUint256
	kindBytes32
)

// Field is one typed value of a voucher preimage.
type Field struct {
	kind kind
	str  string
	addr common.Address
	b    bool
	n    *big.Int
	h    common.Hash
}

func String(s string) Field          { return Field{kind: kindString, str: s} }
func Address(a common.Address) Field { return Field{kind: kindAddress, addr: a} }
func Bool(b bool) Field              { return Field{kind: kindBool, b: b} }
func Bytes32(h common.Hash) Field    { return Field{kind: kindBytes32, h: h} }
func Uint64(n uint64) Field          { return Uint256(new(big.Int).SetUint64(n)) }
func Uint256(n *big.Int) Field       { return Field{kind: kindUint256, n: n} }

// appendPacked appends the tightly packed encoding of f: strings as raw
// UTF-8, addresses as 20 bytes, booleans as one byte, integers as 32-byte
// big-endian words.
func (f Field) appendPacked(b []byte) []byte {
	switch f.kind {
	case kindString:
		return append(b, f.str...)
	case kindAddress:
		return append(b, f.addr.Bytes()...)
	case kindBool:
		if f.b {
			return append(b, 1)
		}
		return append(b, 0)
	case kindUint256:
		n := new(big.Int)
		if f.n != nil {
			n.Set(f.n)
		}
		return append(b, math.U256Bytes(n)...)
	case kindBytes32:
		return append(b, f.h.Bytes()...)
	}
	panic(fmt.Sprintf("voucher: unknown field kind %d", f.kind))
}

// Preimage returns tag ‖ packed(fields).
func Preimage(tag string, fields ...Field) []byte {
	b := make([]byte, 0, len(tag)+32*len(fields))
	b = append(b, tag...)
	for _, f := range fields {
		b = f.appendPacked(b)
	}
	return b
}

// Digest is keccak256 of the preimage. Identical to solidityKeccak256 over
// ["string", ...fieldTypes] with the tag as the first value.
func Digest(tag string, fields ...Field) common.Hash {
	return crypto.Keccak256Hash(Preimage(tag, fields...))
}

// Voucher is the logical attestation a signer produces. Recipient is the
// address the action benefits; it is not necessarily one of the signed fields.
type Voucher struct {
	Tag       string
	Fields    []Field
	Recipient common.Address
}

func (v Voucher) Digest() common.Hash { return Digest(v.Tag, v.Fields...) }

// Authorized is the whitelist voucher: ("authorized", recipient).
func Authorized(recipient common.Address) Voucher {
	return Voucher{
		Tag:       TagAuthorized,
		Fields:    []Field{Address(recipient)},
		Recipient: recipient,
	}
}

// Redeemable is the ambassador voucher: ("redeemable", uri, recipient, ambassador).
func Redeemable(uri string, recipient common.Address, ambassador bool) Voucher {
	return Voucher{
		Tag:       TagRedeemable,
		Fields:    []Field{String(uri), Address(recipient), Bool(ambassador)},
		Recipient: recipient,
	}
}

// BridgeRedeem binds a transfer to its destination contract:
// ("redeem", chainId, contract, id, amount). Anyone holding it may choose the
// recipient.
func BridgeRedeem(chainID uint64, contract common.Address, id uint64, amount *big.Int, recipient common.Address) Voucher {
	return Voucher{
		Tag:       TagRedeem,
		Fields:    []Field{Uint64(chainID), Address(contract), Uint64(id), Uint256(amount)},
		Recipient: recipient,
	}
}

// SecureBridgeRedeem additionally binds the recipient:
// ("redeem", chainId, contract, id, amount, owner).
func SecureBridgeRedeem(chainID uint64, contract common.Address, id uint64, amount *big.Int, owner common.Address) Voucher {
	return Voucher{
		Tag:       TagRedeem,
		Fields:    []Field{Uint64(chainID), Address(contract), Uint64(id), Uint256(amount), Address(owner)},
		Recipient: owner,
	}
}

// VaultRedeem releases one asset held in custody: ("redeem", recipient, tokenId).
// It shares the bridge's tag; the packed layouts differ in length, so the two
// preimages cannot coincide.
func VaultRedeem(recipient common.Address, tokenID uint64) Voucher {
	return Voucher{
		Tag:       TagRedeem,
		Fields:    []Field{Address(recipient), Uint64(tokenID)},
		Recipient: recipient,
	}
}

// Sign produces a 65-byte personal-sign signature over the 32 digest bytes,
// V in {27,28}, the same bytes a wallet's signMessage returns.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return auth.SignMessage(digest.Bytes(), key)
}
