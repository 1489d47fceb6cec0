package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent to the order relay.
const (
	HeaderRelayKey       = "X-Relay-Key"
	HeaderRelayTimestamp = "X-Relay-Timestamp"
	HeaderRelaySignature = "X-Relay-Signature"
)

// HMACAuth holds relay API credentials.
type HMACAuth struct {
	Key    string
	Secret string // base64 encoded; raw bytes are used if decoding fails
}

// Headers returns the signed headers for a relay request. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller supplied unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderRelayKey:       h.Key,
		HeaderRelayTimestamp: ts,
		HeaderRelaySignature: Sign(h.secretBytes(), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt.
func (h *HMACAuth) Verify(method, path, body, ts, signature string) bool {
	want := Sign(h.secretBytes(), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (h *HMACAuth) secretBytes() []byte {
	b, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		return []byte(h.Secret)
	}
	return b
}

// Sign returns base64(HMAC-SHA256(key, message)).
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
