package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

type authorizeRequest struct {
	Quantity  int    `json:"quantity" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (h *Handler) handleCollectionAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	sig, err := voucher.ParseSignature(req.Signature)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ids, err := h.collection.Authorize(c.Request.Context(), auth.Caller(c), req.Quantity, sig)
	if err != nil {
		h.fail(c, "collection.authorize", err)
		return
	}
	h.metrics.outcome("collection.authorize", "")
	c.JSON(http.StatusOK, gin.H{"minted": ids})
}

type collectionRedeemRequest struct {
	Recipient  string `json:"recipient"`
	URI        string `json:"uri" binding:"required"`
	Ambassador bool   `json:"ambassador"`
	Signature  string `json:"signature" binding:"required"`
}

func (h *Handler) handleCollectionRedeem(c *gin.Context) {
	var req collectionRedeemRequest
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
	ids, err := h.collection.Redeem(c.Request.Context(), caller, recipient, req.URI, req.Ambassador, sig)
	if err != nil {
		h.fail(c, "collection.redeem", err)
		return
	}
	h.metrics.outcome("collection.redeem", "")
	c.JSON(http.StatusOK, gin.H{"minted": ids})
}
