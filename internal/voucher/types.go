package voucher

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BridgeVoucher is a signed redemption proof for one bridge transfer, as it
// travels through the relay queue and the HTTP API. SourceChainID and
// Source are metadata only; they are not part of the signed preimage.
type BridgeVoucher struct {
	SourceChainID uint64         `json:"source_chain_id"`
	Source        common.Address `json:"source"`
	ChainID       uint64         `json:"chain_id"`
	Contract      common.Address `json:"contract"`
	ID            uint64         `json:"id"`
	Amount        *big.Int       `json:"amount"`
	Recipient     common.Address `json:"recipient"`
	Secure        bool           `json:"secure"`
	Signature     hexutil.Bytes  `json:"signature"`
}

// Voucher rebuilds the logical voucher the signature covers.
func (b *BridgeVoucher) Voucher() Voucher {
	if b.Secure {
		return SecureBridgeRedeem(b.ChainID, b.Contract, b.ID, b.Amount, b.Recipient)
	}
	return BridgeRedeem(b.ChainID, b.Contract, b.ID, b.Amount, b.Recipient)
}

// Redis key templates
const (
	VoucherQueueKeyFmt = "voucher:queue:%s" // %s = destination contract (lowercase hex)
	VoucherDLQKeyFmt   = "voucher:dlq:%s"
	RelayCursorKeyFmt  = "relay:cursor:%s" // %s = source contract (lowercase hex)
)
