package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
)

var kindStatus = map[string]int{
	"invalid_signature":      http.StatusUnauthorized,
	"already_consumed":       http.StatusConflict,
	"invalid_destination":    http.StatusUnprocessableEntity,
	"not_owner":              http.StatusForbidden,
	"unauthorized":           http.StatusForbidden,
	"not_staked":             http.StatusConflict,
	"already_staked":         http.StatusConflict,
	"insufficient_balance":   http.StatusPaymentRequired,
	"insufficient_allowance": http.StatusPaymentRequired,
	"invalid_amount":         http.StatusBadRequest,
	"not_found":              http.StatusNotFound,
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	if s, ok := kindStatus[ledger.Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	kind := ledger.Kind(err)
	h.metrics.outcome(op, kind)
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "bad_request"})
}
