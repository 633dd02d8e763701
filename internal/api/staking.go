package api

import (
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
)

type idsRequest struct {
	IDs []uint64 `json:"ids"`
}

func (h *Handler) handleStake(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.staking.Stake(c.Request.Context(), auth.Caller(c), req.IDs); err != nil {
		h.fail(c, "staking.stake", err)
		return
	}
	h.metrics.outcome("staking.stake", "")
	c.JSON(http.StatusOK, gin.H{"staked": req.IDs})
}

// handleRelease mints accrued rewards. An empty id list releases every asset
// the caller has staked.
func (h *Handler) handleRelease(c *gin.Context) {
	h.payout(c, true)
}

// handleUnstake returns custody and pays what has accrued. An empty id list
// unstakes everything the caller has staked.
func (h *Handler) handleUnstake(c *gin.Context) {
	h.payout(c, false)
}

func (h *Handler) payout(c *gin.Context, release bool) {
	op := "staking.unstake"
	if release {
		op = "staking.release"
	}
	var req idsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	ctx, caller := c.Request.Context(), auth.Caller(c)

	var (
		total *big.Int
		err   error
	)
	switch {
	case release && len(req.IDs) == 0:
		total, err = h.staking.ReleaseAll(ctx, caller)
	case release:
		total, err = h.staking.Release(ctx, caller, req.IDs)
	case len(req.IDs) == 0:
		total, err = h.staking.UnstakeAll(ctx, caller)
	default:
		total, err = h.staking.Unstake(ctx, caller, req.IDs)
	}
	if err != nil {
		h.fail(c, op, err)
		return
	}
	h.metrics.outcome(op, "")
	c.JSON(http.StatusOK, gin.H{"ids": req.IDs, "reward": total.String()})
}

func (h *Handler) handlePosition(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	pos, err := h.staking.Position(ctx, id)
	if err != nil {
		h.fail(c, "staking.position", err)
		return
	}
	resp := gin.H{"position": pos, "staked": pos.StakedAt != 0, "releaseable": "0"}
	if pos.StakedAt != 0 {
		amt, err := h.staking.Releaseable(ctx, id)
		if err != nil {
			h.fail(c, "staking.position", err)
			return
		}
		resp["releaseable"] = amt.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleOwnerTokens(c *gin.Context) {
	owner, err := parseAddress(c.Param("addr"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	hold, err := h.staking.OwnerTokens(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, "staking.owner", err)
		return
	}
	c.JSON(http.StatusOK, hold)
}
