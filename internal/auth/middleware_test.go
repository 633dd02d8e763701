package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSetup creates a miniredis instance, a Redis client, and a Gin engine
// with the auth middleware wired up.
func testSetup(t *testing.T) (*miniredis.Miniredis, *redis.Client, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", Middleware(rdb), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"wallet": Caller(c).Hex()})
	})
	return mr, rdb, r
}

const testBody = `{"ids":[1]}`

// buildRequest creates a valid signed HTTP request for testing.
// expiresOffset is relative to now (e.g. +2*time.Minute for valid, -1 for expired).
func buildRequest(t *testing.T, expiresOffset time.Duration, nonce string) (*http.Request, string) {
	t.Helper()
	return buildSigned(t, SignedRequest{
		Action:     "POST /test",
		ExpiresAt:  time.Now().Add(expiresOffset).Unix(),
		Nonce:      nonce,
		Payload:    json.RawMessage(testBody),
		ResourceID: "1",
	}, testBody)
}

// buildSigned signs sr with a fresh key and sends body to POST /test.
func buildSigned(t *testing.T, sr SignedRequest, body string) (*http.Request, string) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	walletAddr := crypto.PubkeyToAddress(privKey.PublicKey).Hex()

	msgBytes, _ := json.Marshal(sr)
	msgB64 := base64.StdEncoding.EncodeToString(msgBytes)

	hash := HashMessage(msgBytes)
	sig, _ := crypto.Sign(hash, privKey)
	sig[64] += 27
	sigHex := "0x" + hex.EncodeToString(sig)

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("X-Wallet-Address", walletAddr)
	req.Header.Set("X-Signed-Message", msgB64)
	req.Header.Set("X-Wallet-Signature", sigHex)

	return req, walletAddr
}

func TestMiddleware_ValidRequest(t *testing.T) {
	_, _, r := testSetup(t)

	req, wallet := buildRequest(t, 2*time.Minute, "nonce-valid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.EqualFold(resp["wallet"], wallet) {
		t.Errorf("caller: got %q want %q", resp["wallet"], wallet)
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	_, _, r := testSetup(t)

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_Expired(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, -1*time.Second, "nonce-expired-1") // already expired
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "request expired" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_TooFarInFuture(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, 10*time.Minute, "nonce-future-1") // > 5 min
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "expires_at too far in future" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	_, _, r := testSetup(t)

	// Build valid request, then swap in a different wallet address
	req, _ := buildRequest(t, 2*time.Minute, "nonce-badsig-1")
	req.Header.Set("X-Wallet-Address", "0x000000000000000000000000000000000000dEaD")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "invalid signature" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	_, _, r := testSetup(t)

	req1, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1")
	req2, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1") // same nonce, different key

	// First request: OK
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w1.Code, w1.Body.String())
	}

	// Second request with the same nonce: 401
	// Note: req2 has a different wallet+signature but same nonce, still blocked
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w2.Code, w2.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp["error"] != "nonce already used" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceExpires(t *testing.T) {
	mr, _, r := testSetup(t)

	nonce := "nonce-ttl-1"
	req1, _ := buildRequest(t, 2*time.Minute, nonce)
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}

	if ttl := mr.TTL(nonceKeyPrefix + nonce); ttl <= 0 {
		t.Fatalf("nonce key should carry a TTL, got %v", ttl)
	}

	// Fast-forward miniredis time past the nonce TTL
	mr.FastForward(3 * time.Minute)
	if mr.Exists(nonceKeyPrefix + nonce) {
		t.Error("nonce key should expire with the request window")
	}
}

func TestMiddleware_WithoutRedis(t *testing.T) {
	r := gin.New()
	r.POST("/test", Middleware(nil), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"wallet": Caller(c).Hex()})
	})

	req, _ := buildRequest(t, 2*time.Minute, "nonce-no-redis")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware_BindsActionAndPayload(t *testing.T) {
	mr, _, r := testSetup(t)
	exp := time.Now().Add(2 * time.Minute).Unix()

	cases := []struct {
		name   string
		sr     SignedRequest
		body   string
		status int
	}{
		{"other route", SignedRequest{Action: "POST /other", ExpiresAt: exp, Nonce: "bind-1", Payload: json.RawMessage(testBody)}, testBody, http.StatusUnauthorized},
		{"other method", SignedRequest{Action: "GET /test", ExpiresAt: exp, Nonce: "bind-2", Payload: json.RawMessage(testBody)}, testBody, http.StatusUnauthorized},
		{"other body", SignedRequest{Action: "POST /test", ExpiresAt: exp, Nonce: "bind-3", Payload: json.RawMessage(testBody)}, `{"ids":[2]}`, http.StatusUnauthorized},
		{"unsigned body", SignedRequest{Action: "POST /test", ExpiresAt: exp, Nonce: "bind-4"}, testBody, http.StatusUnauthorized},
		{"whitespace only differs", SignedRequest{Action: "POST /test", ExpiresAt: exp, Nonce: "bind-5", Payload: json.RawMessage(testBody)}, "{ \"ids\": [1] }\n", http.StatusOK},
		{"no body", SignedRequest{Action: "POST /test", ExpiresAt: exp, Nonce: "bind-6"}, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := buildSigned(t, tc.sr, tc.body)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			// a rejected request must not burn its nonce
			if tc.status != http.StatusOK && mr.Exists(nonceKeyPrefix+tc.sr.Nonce) {
				t.Error("nonce consumed by a rejected request")
			}
		})
	}
}
