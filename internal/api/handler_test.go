package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/deploy"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/relay"
	"github.com/0gfoundation/0g-voucher-ledger/internal/roles"
	"github.com/0gfoundation/0g-voucher-ledger/internal/voucher"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	chainID    = 16602
	testCaller = "X-Test-Caller"
)

var (
	admin = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice = common.HexToAddress("0x3333333333333333333333333333333333333333")
	bob   = common.HexToAddress("0x4444444444444444444444444444444444444444")

	plan = deploy.Plan{
		ChainID:            chainID,
		StakingContract:    common.HexToAddress("0x00000000000000000000000000000000000000A1"),
		StakingAssets:      common.HexToAddress("0x00000000000000000000000000000000000000E1"),
		RewardToken:        common.HexToAddress("0x00000000000000000000000000000000000000F1"),
		BridgeContract:     common.HexToAddress("0x00000000000000000000000000000000000000B1"),
		BridgeToken:        common.HexToAddress("0x00000000000000000000000000000000000000F1"),
		CollectionContract: common.HexToAddress("0x00000000000000000000000000000000000000CC"),
		CollectionAssets:   common.HexToAddress("0x00000000000000000000000000000000000000E1"),
		MaxPerVoucher:      5,
		VaultContract:      common.HexToAddress("0x00000000000000000000000000000000000000D1"),
		VaultAssets:        common.HexToAddress("0x00000000000000000000000000000000000000E1"),
	}
)

type fixture struct {
	suite   *deploy.Suite
	clock   *ledger.ManualClock
	key     *ecdsa.PrivateKey
	rdb     *redis.Client
	metrics *Metrics
	engine  *gin.Engine
}

// newFixture serves a freshly set-up suite. The caller of each request is
// taken from a test header in place of the wallet-signature middleware.
func newFixture(t *testing.T, withRedis bool) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	clock := ledger.NewManualClock(1_700_000_000)
	host := ledger.NewHost(ledger.NewMemStore(), clock)
	suite := deploy.Build(host, plan, nil, zap.NewNop())
	require.NoError(t, suite.Setup(context.Background(), admin, crypto.PubkeyToAddress(key.PublicKey), nil))

	f := &fixture{suite: suite, clock: clock, key: key, metrics: NewMetrics(prometheus.NewRegistry())}
	if withRedis {
		mr := miniredis.RunT(t)
		f.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	h := NewHandler(Ledgers{
		Host:       host,
		Staking:    suite.Staking,
		Bridge:     suite.Bridge,
		Collection: suite.Collection,
		Vault:      suite.Vault,
		Roles:      suite.RoleSets(),
	}, f.rdb, f.metrics, zap.NewNop())

	f.engine = gin.New()
	f.engine.Use(f.metrics.Middleware())
	rg := f.engine.Group("/api", func(c *gin.Context) {
		c.Set(auth.CallerKey, common.HexToAddress(c.GetHeader(testCaller)))
		c.Next()
	})
	h.Register(rg)
	return f
}

func (f *fixture) do(t *testing.T, caller common.Address, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testCaller, caller.Hex())
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (f *fixture) sign(t *testing.T, v voucher.Voucher) string {
	t.Helper()
	sig, err := voucher.Sign(v.Digest(), f.key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (f *fixture) exec(t *testing.T, fn func(tx *ledger.Tx) error) {
	t.Helper()
	require.NoError(t, f.suite.Host.Execute(context.Background(), fn))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// fund mints bridge tokens to holder.
func (f *fixture) fund(t *testing.T, holder common.Address, amount *big.Int) {
	tok := f.suite.Bridge.Token()
	f.exec(t, func(tx *ledger.Tx) error {
		if err := tok.Roles().Grant(tx, admin, roles.MinterRole, admin); err != nil {
			return err
		}
		return tok.Mint(tx, admin, holder, amount)
	})
}

// ── Staking ────────────────────────────────────────────────────────────────

func TestStaking_StakeAccrueRelease(t *testing.T) {
	f := newFixture(t, false)
	assets := f.suite.Staking.Assets()
	f.exec(t, func(tx *ledger.Tx) error {
		if err := assets.Roles().Grant(tx, admin, roles.MinterRole, admin); err != nil {
			return err
		}
		if _, err := assets.Mint(tx, admin, alice, "ipfs://1"); err != nil {
			return err
		}
		assets.SetApprovalForAll(tx, alice, f.suite.Staking.Address(), true)
		return nil
	})

	w, _ := f.do(t, alice, http.MethodPost, "/api/staking/stake", gin.H{"ids": []uint64{1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f.clock.Advance(24 * time.Hour)

	w, body := f.do(t, bob, http.MethodGet, "/api/staking/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["staked"])
	assert.Equal(t, "8640000000000000000", body["releaseable"])

	w, body = f.do(t, alice, http.MethodPost, "/api/staking/release", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "8640000000000000000", body["reward"])

	w, body = f.do(t, bob, http.MethodGet, "/api/staking/owner/"+alice.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{float64(1)}, body["staked"])

	// the position is not bob's to unstake
	w, body = f.do(t, bob, http.MethodPost, "/api/staking/unstake", gin.H{"ids": []uint64{1}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_staked", body["kind"])
}

func TestStaking_UnknownAssetAndBadID(t *testing.T) {
	f := newFixture(t, false)

	w, body := f.do(t, alice, http.MethodPost, "/api/staking/stake", gin.H{"ids": []uint64{42}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["kind"])

	w, body = f.do(t, alice, http.MethodGet, "/api/staking/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", body["kind"])
}

// ── Bridge ─────────────────────────────────────────────────────────────────

func TestBridge_SelfTransferRedeemOnce(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, alice, ether(10))
	bridgeAddr := f.suite.Bridge.Address()

	w, _ := f.do(t, admin, http.MethodPost, "/api/bridge/destinations",
		gin.H{"chain_id": chainID, "contract": bridgeAddr.Hex()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := f.do(t, alice, http.MethodPost, "/api/bridge/transfer", gin.H{
		"destination_chain_id": chainID,
		"destination_contract": bridgeAddr.Hex(),
		"amount":               ether(4).String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["id"])

	redeem := gin.H{
		"id":        1,
		"amount":    ether(4).String(),
		"signature": f.sign(t, voucher.BridgeRedeem(chainID, bridgeAddr, 1, ether(4), alice)),
	}
	w, _ = f.do(t, alice, http.MethodPost, "/api/bridge/redeem", redeem)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = f.do(t, alice, http.MethodPost, "/api/bridge/redeem", redeem)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_consumed", body["kind"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues("bridge.redeem", "already_consumed")))

	w, body = f.do(t, bob, http.MethodGet, "/api/bridge/transfers/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["consumed"])

	var bal *big.Int
	require.NoError(t, f.suite.Host.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		bal, err = f.suite.Bridge.Token().BalanceOf(tx, alice)
		return err
	}))
	assert.Equal(t, ether(10), bal)
}

func TestBridge_Errors(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, alice, ether(1))
	elsewhere := common.HexToAddress("0x00000000000000000000000000000000000000B2")

	cases := []struct {
		name   string
		caller common.Address
		path   string
		body   gin.H
		status int
		kind   string
	}{
		{
			name: "unregistered destination", caller: alice, path: "/api/bridge/transfer",
			body:   gin.H{"destination_chain_id": 2, "destination_contract": elsewhere.Hex(), "amount": "1"},
			status: http.StatusUnprocessableEntity, kind: "invalid_destination",
		},
		{
			name: "destination needs curator", caller: alice, path: "/api/bridge/destinations",
			body:   gin.H{"chain_id": 2, "contract": elsewhere.Hex()},
			status: http.StatusForbidden, kind: "unauthorized",
		},
		{
			name: "secure redeem needs curator", caller: alice, path: "/api/bridge/secure-redeem",
			body:   gin.H{"id": 1, "amount": "1", "signature": f.sign(t, voucher.SecureBridgeRedeem(chainID, plan.BridgeContract, 1, big.NewInt(1), alice))},
			status: http.StatusForbidden, kind: "unauthorized",
		},
		{
			name: "voucher from another signer", caller: alice, path: "/api/bridge/redeem",
			body:   gin.H{"id": 7, "amount": "1", "signature": hexutil.Encode(make([]byte, 65))},
			status: http.StatusUnauthorized, kind: "invalid_signature",
		},
		{
			name: "malformed signature", caller: alice, path: "/api/bridge/redeem",
			body:   gin.H{"id": 7, "amount": "1", "signature": "0xdead"},
			status: http.StatusBadRequest, kind: "bad_request",
		},
		{
			name: "zero amount", caller: alice, path: "/api/bridge/redeem",
			body:   gin.H{"id": 7, "amount": "0", "signature": hexutil.Encode(make([]byte, 65))},
			status: http.StatusBadRequest, kind: "invalid_amount",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := f.do(t, tc.caller, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.kind, body["kind"])
		})
	}
}

func TestBridge_SecureRedeemByCurator(t *testing.T) {
	f := newFixture(t, false)
	bridgeAddr := f.suite.Bridge.Address()

	w, _ := f.do(t, admin, http.MethodPost, "/api/bridge/secure-redeem", gin.H{
		"id":        3,
		"amount":    ether(2).String(),
		"recipient": bob.Hex(),
		"signature": f.sign(t, voucher.SecureBridgeRedeem(chainID, bridgeAddr, 3, ether(2), bob)),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	redeemed, err := f.suite.Bridge.IsRedeemed(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, redeemed)
}

func TestBridge_PeekVoucher(t *testing.T) {
	f := newFixture(t, true)
	f.fund(t, alice, ether(1))
	bridgeAddr := f.suite.Bridge.Address()
	require.NoError(t, f.suite.Bridge.AddDestination(context.Background(), admin, chainID, bridgeAddr))

	tr, err := f.suite.Bridge.RequestTransfer(context.Background(), alice, chainID, bridgeAddr, ether(1))
	require.NoError(t, err)

	w, body := f.do(t, alice, http.MethodGet, "/api/bridge/vouchers/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["kind"])

	_, err = relay.NewSigner(f.key, f.rdb).SignAndEnqueue(context.Background(), bridgeAddr, tr)
	require.NoError(t, err)

	w, body = f.do(t, alice, http.MethodGet, "/api/bridge/vouchers/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, true, body["secure"])

	// peeking does not dequeue
	n, err := f.rdb.LLen(context.Background(), relay.QueueKey(bridgeAddr)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBridge_PeekVoucherWithoutRedis(t *testing.T) {
	f := newFixture(t, false)
	w, _ := f.do(t, alice, http.MethodGet, "/api/bridge/vouchers/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ── Collection ─────────────────────────────────────────────────────────────

func TestCollection_AuthorizeOnce(t *testing.T) {
	f := newFixture(t, false)
	req := gin.H{"quantity": 2, "signature": f.sign(t, voucher.Authorized(alice))}

	w, body := f.do(t, alice, http.MethodPost, "/api/collection/authorize", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["minted"], 2)

	w, body = f.do(t, alice, http.MethodPost, "/api/collection/authorize", req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_consumed", body["kind"])

	// someone else's voucher
	w, body = f.do(t, bob, http.MethodPost, "/api/collection/authorize", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_signature", body["kind"])
}

func TestCollection_RedeemForRecipient(t *testing.T) {
	f := newFixture(t, false)
	uri := "ipfs://ambassador"

	w, body := f.do(t, bob, http.MethodPost, "/api/collection/redeem", gin.H{
		"recipient":  alice.Hex(),
		"uri":        uri,
		"ambassador": false,
		"signature":  f.sign(t, voucher.Redeemable(uri, alice, false)),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["minted"], 4)
}

// ── Vault ──────────────────────────────────────────────────────────────────

func TestVault_CustodyAndRedeem(t *testing.T) {
	f := newFixture(t, false)
	var id uint64
	f.exec(t, func(tx *ledger.Tx) error {
		var err error
		id, err = f.suite.Vault.Assets().Mint(tx, plan.CollectionContract, plan.VaultContract, "")
		return err
	})
	path := fmt.Sprintf("/api/vault/%d", id)

	w, body := f.do(t, alice, http.MethodPost, "/api/vault/transfer-in", gin.H{"account": admin.Hex(), "id": id})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", body["kind"])
	w, _ = f.do(t, admin, http.MethodPost, "/api/vault/transfer-in", gin.H{"account": admin.Hex(), "id": id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, body = f.do(t, alice, http.MethodGet, path, nil)
	assert.Equal(t, true, body["custody"])

	req := gin.H{"recipient": alice.Hex(), "id": id, "signature": f.sign(t, voucher.VaultRedeem(alice, id))}
	w, _ = f.do(t, bob, http.MethodPost, "/api/vault/redeem", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f.exec(t, func(tx *ledger.Tx) error {
		owner, err := f.suite.Vault.Assets().OwnerOf(tx, id)
		assert.Equal(t, alice, owner)
		return err
	})

	w, body = f.do(t, bob, http.MethodPost, "/api/vault/redeem", req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_consumed", body["kind"])
	_, body = f.do(t, alice, http.MethodGet, path, nil)
	assert.Equal(t, false, body["custody"])
}

// ── Roles ──────────────────────────────────────────────────────────────────

func TestRoles_GrantRevoke(t *testing.T) {
	f := newFixture(t, false)
	req := gin.H{"contract": plan.BridgeContract.Hex(), "role": "CURATOR_ROLE", "account": bob.Hex()}

	w, body := f.do(t, alice, http.MethodPost, "/api/roles/grant", req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", body["kind"])

	w, _ = f.do(t, admin, http.MethodPost, "/api/roles/grant", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// bob can now register destinations
	w, _ = f.do(t, bob, http.MethodPost, "/api/bridge/destinations",
		gin.H{"chain_id": 2, "contract": "0x00000000000000000000000000000000000000B2"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, admin, http.MethodPost, "/api/roles/revoke", req)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, bob, http.MethodPost, "/api/bridge/destinations",
		gin.H{"chain_id": 3, "contract": "0x00000000000000000000000000000000000000B3"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = f.do(t, admin, http.MethodPost, "/api/roles/grant",
		gin.H{"contract": "0x00000000000000000000000000000000000000DD", "role": "CURATOR_ROLE", "account": bob.Hex()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(ledger.ErrAlreadyStaked))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ledger.ErrInsufficientAllowance))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
