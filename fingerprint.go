package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// DeviceFingerprint derives the stable rate-limit identity key from a client
// network address and user agent. Keying on the pair rather than the raw
// address resists trivial address rotation at the cost of some false
// positives behind shared networks; pass an empty userAgent to key on the
// address alone.
func DeviceFingerprint(ip, userAgent string) string {
	h := sha256.New()
	h.Write([]byte(ip))
	if userAgent != "" {
		h.Write([]byte{'\n'})
		h.Write([]byte(userAgent))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) fingerprintFromContext(ctx context.Context) string {
	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)
	if e != nil && !e.config.RateLimit.FingerprintUserAgent {
		ua = ""
	}
	return DeviceFingerprint(ip, ua)
}
