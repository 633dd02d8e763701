package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/relay"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

type transferRequest struct {
	DestinationChainID  uint64 `json:"destination_chain_id" binding:"required"`
	DestinationContract string `json:"destination_contract" binding:"required"`
	Amount              string `json:"amount" binding:"required"`
}

func (h *Handler) handleTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	dest, err := parseAddress(req.DestinationContract)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.bridge.RequestTransfer(c.Request.Context(), auth.Caller(c), req.DestinationChainID, dest, amount)
	if err != nil {
		h.fail(c, "bridge.transfer", err)
		return
	}
	h.metrics.outcome("bridge.transfer", "")
	c.JSON(http.StatusOK, t)
}

// redeemRequest carries a bridge voucher. Recipient defaults to the caller;
// for secure redemption it is the owner the voucher was signed for.
type redeemRequest struct {
	ChainID   uint64 `json:"chain_id"`
	Contract  string `json:"contract"`
	ID        uint64 `json:"id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Recipient string `json:"recipient"`
	Signature string `json:"signature" binding:"required"`
}

func (h *Handler) handleRedeem(secure bool) gin.HandlerFunc {
	op := "bridge.redeem"
	if secure {
		op = "bridge.secure_redeem"
	}
	return func(c *gin.Context) {
		var body redeemRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
		caller := auth.Caller(c)
		req := bridge.RedeemRequest{ChainID: body.ChainID, ID: body.ID, Recipient: caller}

		var err error
		if body.Contract != "" {
			if req.Contract, err = parseAddress(body.Contract); err != nil {
				badRequest(c, "contract: "+err.Error())
				return
			}
		}
		if body.Recipient != "" {
			if req.Recipient, err = parseAddress(body.Recipient); err != nil {
				badRequest(c, "recipient: "+err.Error())
				return
			}
		}
		if req.Amount, err = parseAmount(body.Amount); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Signature, err = voucher.ParseSignature(body.Signature); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx := c.Request.Context()
		if secure {
			err = h.bridge.SecureRedeem(ctx, caller, req)
		} else {
			err = h.bridge.Redeem(ctx, req)
		}
		if err != nil {
			h.fail(c, op, err)
			return
		}
		h.metrics.outcome(op, "")
		c.JSON(http.StatusOK, gin.H{"id": req.ID, "recipient": req.Recipient, "amount": req.Amount.String()})
	}
}

type destinationRequest struct {
	ChainID  uint64 `json:"chain_id" binding:"required"`
	Contract string `json:"contract" binding:"required"`
}

func (h *Handler) handleAddDestination(c *gin.Context) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	contract, err := parseAddress(req.Contract)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.bridge.AddDestination(c.Request.Context(), auth.Caller(c), req.ChainID, contract); err != nil {
		h.fail(c, "bridge.add_destination", err)
		return
	}
	h.metrics.outcome("bridge.add_destination", "")
	c.JSON(http.StatusOK, gin.H{"chain_id": req.ChainID, "contract": contract})
}

func (h *Handler) handleGetTransfer(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	t, err := h.bridge.Transfer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "bridge.get_transfer", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// handlePeekVoucher looks up the signed voucher of a transfer in its
// destination's relay queue without dequeuing it.
func (h *Handler) handlePeekVoucher(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if h.rdb == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "voucher queue unavailable", "kind": "unavailable"})
		return
	}
	ctx := c.Request.Context()
	t, err := h.bridge.Transfer(ctx, id)
	if err != nil {
		h.fail(c, "bridge.peek_voucher", err)
		return
	}

	items, err := h.rdb.LRange(ctx, relay.QueueKey(t.DestinationContract), 0, -1).Result()
	if err != nil {
		h.fail(c, "bridge.peek_voucher", fmt.Errorf("read voucher queue: %w", err))
		return
	}
	for _, raw := range items {
		var bv voucher.BridgeVoucher
		if json.Unmarshal([]byte(raw), &bv) != nil {
			continue
		}
		if bv.Source == h.bridge.Address() && bv.ID == id {
			c.JSON(http.StatusOK, bv)
			return
		}
	}
	h.fail(c, "bridge.peek_voucher", fmt.Errorf("%w: no queued voucher for transfer %d", ledger.ErrNotFound, id))
}
