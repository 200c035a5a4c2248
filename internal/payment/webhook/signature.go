// internal/payment/webhook/signature.go
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ParseSignatureHeader splits a "ts=...,v1=..." style header into key/value
// pairs. Unrecognized keys are kept; malformed pairs are skipped.
func ParseSignatureHeader(header string) map[string]string {
	parts := strings.Split(header, ",")
	pairs := make(map[string]string, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		pairs[k] = v
	}
	return pairs
}

// HexHMACSHA256 returns the lowercase hex HMAC-SHA256 of message under secret.
func HexHMACSHA256(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidHMAC recomputes the digest and compares it to the supplied hex digest
// in constant time. Naive string equality here is a timing oracle.
func ValidHMAC(secret, message []byte, suppliedHex string) bool {
	expected := HexHMACSHA256(secret, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(suppliedHex))) == 1
}
