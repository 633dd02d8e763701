package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

type vaultMoveRequest struct {
	Account string `json:"account" binding:"required"` // from for transfer-in, to for transfer-out
	ID      uint64 `json:"id" binding:"required"`
}

func (h *Handler) handleVaultTransferIn(c *gin.Context) {
	var req vaultMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	from, err := parseAddress(req.Account)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.vault.TransferIn(c.Request.Context(), auth.Caller(c), from, req.ID); err != nil {
		h.fail(c, "vault.transfer_in", err)
		return
	}
	h.metrics.outcome("vault.transfer_in", "")
	c.JSON(http.StatusOK, gin.H{"id": req.ID, "custody": true})
}

func (h *Handler) handleVaultTransferOut(c *gin.Context) {
	var req vaultMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := parseAddress(req.Account)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.vault.TransferOut(c.Request.Context(), auth.Caller(c), to, req.ID); err != nil {
		h.fail(c, "vault.transfer_out", err)
		return
	}
	h.metrics.outcome("vault.transfer_out", "")
	c.JSON(http.StatusOK, gin.H{"id": req.ID, "owner": to})
}

type vaultRedeemRequest struct {
	Recipient string `json:"recipient"`
	ID        uint64 `json:"id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (h *Handler) handleVaultRedeem(c *gin.Context) {
	var req vaultRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	caller := auth.Caller(c)
	recipient := caller
	if req.Recipient != "" {
		var err error
		if recipient, err = parseAddress(req.Recipient); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	sig, err := voucher.ParseSignature(req.Signature)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.vault.Redeem(c.Request.Context(), caller, recipient, req.ID, sig); err != nil {
		h.fail(c, "vault.redeem", err)
		return
	}
	h.metrics.outcome("vault.redeem", "")
	c.JSON(http.StatusOK, gin.H{"id": req.ID, "owner": recipient})
}

func (h *Handler) handleVaultCustody(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	held, err := h.vault.InCustody(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "vault.custody", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "custody": held})
}
