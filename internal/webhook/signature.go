package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the payload signature on outbound deliveries.
const SignatureHeader = "X-Shepherd-Signature"

// Sign computes the hex HMAC-SHA256 of body under secret, in the header form
// "sha256=<hex>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes and compares in constant time. Receivers should
// do the equivalent of this on their side.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expected))
}
