package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	errSigLength = errors.New("signature must be 65 bytes")
	errSigV      = errors.New("signature recovery id must be 0, 1, 27 or 28")
)

// HashMessage constructs the EIP-191 prefixed hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashMessage(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// SignMessage personal-signs msg. V is in {27,28}, as wallets return it.
func SignMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Recover extracts the signer address from an EIP-191 signature over msg.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	return recoverHash(HashMessage(msg), sig)
}

// recoverHash accepts R || S || V with V in {0,1} or {27,28}.
func recoverHash(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errSigLength
	}
	rsv := make([]byte, crypto.SignatureLength)
	copy(rsv, sig)
	switch v := rsv[64]; {
	case v == 27 || v == 28:
		rsv[64] -= 27
	case v > 1:
		return common.Address{}, errSigV
	}

	pub, err := crypto.SigToPub(hash, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PersonalSignRecoverer treats a voucher digest as a 32-byte personal
// message, so signers use an ordinary wallet signMessage flow.
type PersonalSignRecoverer struct{}

func (PersonalSignRecoverer) Recover(digest common.Hash, sig []byte) (common.Address, error) {
	return Recover(digest.Bytes(), sig)
}
