package relay

import (
	"crypto/ecdsa"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

// Batch kinds accepted by ParseRows.
const (
	KindAuthorize    = "authorize"
	KindRedeemable   = "redeemable"
	KindBridge       = "bridge"
	KindSecureBridge = "secure-bridge"
	KindVault        = "vault"
)

// Signed is one output row of a signing batch.
type Signed struct {
	Recipient common.Address
	Signature hexutil.Bytes
}

// ParseRows reads comma-separated rows and builds one voucher per row:
//
//	authorize:      recipient
//	redeemable:     recipient,uri,ambassador
//	bridge:         recipient,chainId,contract,id,amount
//	secure-bridge:  recipient,chainId,contract,id,amount
//	vault:          recipient,tokenId
//
// Blank lines and lines starting with '#' are skipped. Errors name the input
// line, counting skipped ones.
func ParseRows(kind string, r io.Reader) ([]voucher.Voucher, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []voucher.Voucher
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := parseRow(kind, rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
}

func parseRow(kind string, rec []string) (voucher.Voucher, error) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	want := map[string]int{KindAuthorize: 1, KindRedeemable: 3, KindBridge: 5, KindSecureBridge: 5, KindVault: 2}[kind]
	if want == 0 {
		return voucher.Voucher{}, fmt.Errorf("unknown voucher kind %q", kind)
	}
	if len(rec) != want {
		return voucher.Voucher{}, fmt.Errorf("%s rows have %d fields, got %d", kind, want, len(rec))
	}
	recipient, err := parseAddress(rec[0])
	if err != nil {
		return voucher.Voucher{}, err
	}

	switch kind {
	case KindAuthorize:
		return voucher.Authorized(recipient), nil
	case KindRedeemable:
		ambassador, err := strconv.ParseBool(rec[2])
		if err != nil {
			return voucher.Voucher{}, fmt.Errorf("ambassador flag: %w", err)
		}
		return voucher.Redeemable(rec[1], recipient, ambassador), nil
	case KindVault:
		id, err := strconv.ParseUint(rec[1], 10, 64)
		if err != nil {
			return voucher.Voucher{}, fmt.Errorf("token id: %w", err)
		}
		return voucher.VaultRedeem(recipient, id), nil
	}

	chainID, err := strconv.ParseUint(rec[1], 10, 64)
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("chain id: %w", err)
	}
	contract, err := parseAddress(rec[2])
	if err != nil {
		return voucher.Voucher{}, err
	}
	id, err := strconv.ParseUint(rec[3], 10, 64)
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("transfer id: %w", err)
	}
	amount, ok := new(big.Int).SetString(rec[4], 10)
	if !ok || amount.Sign() <= 0 {
		return voucher.Voucher{}, fmt.Errorf("invalid amount %q", rec[4])
	}
	if kind == KindSecureBridge {
		return voucher.SecureBridgeRedeem(chainID, contract, id, amount, recipient), nil
	}
	return voucher.BridgeRedeem(chainID, contract, id, amount, recipient), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// SignBatch signs every voucher with key, preserving order.
func SignBatch(vs []voucher.Voucher, key *ecdsa.PrivateKey) ([]Signed, error) {
	out := make([]Signed, 0, len(vs))
	for _, v := range vs {
		sig, err := voucher.Sign(v.Digest(), key)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", v.Recipient.Hex(), err)
		}
		out = append(out, Signed{Recipient: v.Recipient, Signature: sig})
	}
	return out, nil
}

// WriteLines writes "recipient, signature" lines under a header.
func WriteLines(w io.Writer, rows []Signed) error {
	if _, err := fmt.Fprintln(w, "address, signature"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s, %s\n", r.Recipient.Hex(), r.Signature); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes an object keyed by lowercased recipient address.
func WriteJSON(w io.Writer, rows []Signed) error {
	m := make(map[string]string, len(rows))
	for _, r := range rows {
		m[strings.ToLower(r.Recipient.Hex())] = r.Signature.String()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
