package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Action is "METHOD /path" of the request it authorizes and Payload is its
// JSON body; both must match the request or it is rejected.
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "auth:nonce:"

	// CallerKey holds the authenticated wallet (common.Address) in the gin context.
	CallerKey = "caller"
)

// Caller returns the wallet authenticated by Middleware.
func Caller(c *gin.Context) common.Address {
	v, _ := c.Get(CallerKey)
	addr, _ := v.(common.Address)
	return addr
}

// Middleware returns a Gin handler that validates EIP-191 wallet signatures.
// rdb may be nil, in which case nonces are not deduplicated.
// The recovered wallet is the caller of every ledger operation in the request.
func Middleware(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if !common.IsHexAddress(walletAddr) || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		// Decode signed message
		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}

		now := time.Now().Unix()

		// Check expiry
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		// Decode signature
		sigHex = strings.TrimPrefix(sigHex, "0x")
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		// Recover signer
		recovered, err := Recover(msgBytes, sig)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if !strings.EqualFold(recovered.Hex(), walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		if req.Action != c.Request.Method+" "+c.Request.URL.Path {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signed action does not match request"})
			return
		}
		var body []byte
		if c.Request.Body != nil {
			if body, err = io.ReadAll(c.Request.Body); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "read body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		if !samePayload(req.Payload, body) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signed payload does not match body"})
			return
		}

		// Nonce dedup via Redis SET NX. Without Redis only expiry bounds replay.
		if rdb != nil {
			nonceKey := nonceKeyPrefix + req.Nonce
			ttl := time.Duration(req.ExpiresAt-now) * time.Second
			set, err := rdb.SetNX(c.Request.Context(), nonceKey, 1, ttl).Result()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			if !set {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
				return
			}
		}

		c.Set(CallerKey, recovered)
		c.Next()
	}
}

// samePayload compares JSON up to insignificant whitespace. An absent body
// matches an absent or null payload.
func samePayload(signed json.RawMessage, body []byte) bool {
	norm := func(b []byte) ([]byte, bool) {
		b = bytes.TrimSpace(b)
		if len(b) == 0 || bytes.Equal(b, []byte("null")) {
			return nil, true
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return nil, false
		}
		return buf.Bytes(), true
	}
	a, ok := norm(signed)
	if !ok {
		return false
	}
	b, ok := norm(body)
	return ok && bytes.Equal(a, b)
}
