package api

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/bridge"
	"github.com/0gfoundation/0g-voucher-ledger/internal/collection"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/staking"
	"github.com/0gfoundation/0g-voucher-ledger/internal/vault"
)

// Handler exposes the ledgers over HTTP. The caller of every state-changing
// operation is the wallet authenticated by auth.Middleware.
type Handler struct {
	host       *ledger.Host
	staking    *staking.Ledger
	bridge     *bridge.Ledger
	collection *collection.Collection
	vault      *vault.Vault // optional
	roles      map[common.Address]*roles.Roles
	rdb        *redis.Client // optional; voucher peek needs it
	metrics    *Metrics
	log        *zap.Logger
}

// Ledgers groups the contracts served by one Handler.
type Ledgers struct {
	Host       *ledger.Host
	Staking    *staking.Ledger
	Bridge     *bridge.Ledger
	Collection *collection.Collection
	Vault      *vault.Vault
	// Roles lists every capability set reachable through /roles.
	Roles []*roles.Roles
}

func NewHandler(l Ledgers, rdb *redis.Client, m *Metrics, log *zap.Logger) *Handler {
	rs := make(map[common.Address]*roles.Roles, len(l.Roles))
	for _, r := range l.Roles {
		rs[r.Contract()] = r
	}
	return &Handler{
		host:       l.Host,
		staking:    l.Staking,
		bridge:     l.Bridge,
		collection: l.Collection,
		vault:      l.Vault,
		roles:      rs,
		rdb:        rdb,
		metrics:    m,
		log:        log,
	}
}

// Register mounts all routes. auth.Middleware should already be applied to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	// ── Staking ────────────────────────────────────────────────────────────
	rg.POST("/staking/stake", h.handleStake)
	rg.POST("/staking/release", h.handleRelease)
	rg.POST("/staking/unstake", h.handleUnstake)
	rg.GET("/staking/owner/:addr", h.handleOwnerTokens)
	rg.GET("/staking/:id", h.handlePosition)

	// ── Bridge ─────────────────────────────────────────────────────────────
	rg.POST("/bridge/transfer", h.handleTransfer)
	rg.POST("/bridge/redeem", h.handleRedeem(false))
	rg.POST("/bridge/secure-redeem", h.handleRedeem(true))
	rg.POST("/bridge/destinations", h.handleAddDestination)
	rg.GET("/bridge/transfers/:id", h.handleGetTransfer)
	rg.GET("/bridge/vouchers/:id", h.handlePeekVoucher)

	// ── Collection ─────────────────────────────────────────────────────────
	rg.POST("/collection/authorize", h.handleCollectionAuthorize)
	rg.POST("/collection/redeem", h.handleCollectionRedeem)

	// ── Vault ──────────────────────────────────────────────────────────────
	if h.vault != nil {
		rg.POST("/vault/transfer-in", h.handleVaultTransferIn)
		rg.POST("/vault/redeem", h.handleVaultRedeem)
		rg.POST("/vault/transfer-out", h.handleVaultTransferOut)
		rg.GET("/vault/:id", h.handleVaultCustody)
	}

	// ── Roles ──────────────────────────────────────────────────────────────
	rg.POST("/roles/grant", h.handleRole(true))
	rg.POST("/roles/revoke", h.handleRole(false))
}

// ── Roles ──────────────────────────────────────────────────────────────────

type roleRequest struct {
	Contract string `json:"contract" binding:"required"`
	Role     string `json:"role"`
	Account  string `json:"account" binding:"required"`
}

func (h *Handler) handleRole(grant bool) gin.HandlerFunc {
	op := "roles.revoke"
	if grant {
		op = "roles.grant"
	}
	return func(c *gin.Context) {
		var req roleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		contract, err := parseAddress(req.Contract)
		if err != nil {
			badRequest(c, "contract: "+err.Error())
			return
		}
		account, err := parseAddress(req.Account)
		if err != nil {
			badRequest(c, "account: "+err.Error())
			return
		}
		rs, ok := h.roles[contract]
		if !ok {
			h.fail(c, op, fmt.Errorf("%w: unknown contract %s", ledger.ErrNotFound, contract.Hex()))
			return
		}
		role := roles.ID(req.Role)
		caller := auth.Caller(c)

		err = h.host.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
			if grant {
				return rs.Grant(tx, caller, role, account)
			}
			return rs.Revoke(tx, caller, role, account)
		})
		if err != nil {
			h.fail(c, op, err)
			return
		}
		h.metrics.outcome(op, "")
		h.log.Info(op,
			zap.String("contract", contract.Hex()),
			zap.String("role", roles.Name(role)),
			zap.String("account", account.Hex()),
			zap.String("caller", caller.Hex()),
		)
		c.JSON(http.StatusOK, gin.H{"contract": contract, "role": roles.Name(role), "account": account, "granted": grant})
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a decimal integer string. Range checks are the ledger's.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func paramID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}
