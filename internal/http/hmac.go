package httpx

import (
	"crypto/hmac"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/shortontech/fraudsignal/internal/collector"
)

// HMACAuth verifies the collector's body signature on incoming checks.
type HMACAuth struct {
	secret      []byte
	requireHMAC bool
	logger      *slog.Logger
}

// NewHMACAuth creates a verifier. With requireHMAC false every request
// passes.
func NewHMACAuth(secret string, requireHMAC bool, logger *slog.Logger) *HMACAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &HMACAuth{
		secret:      []byte(secret),
		requireHMAC: requireHMAC,
		logger:      logger,
	}
}

// VerifyHMAC validates the signature header against payload.
func (h *HMACAuth) VerifyHMAC(r *http.Request, payload []byte) bool {
	if h == nil || !h.requireHMAC {
		return true
	}

	if len(h.secret) == 0 {
		h.logger.Warn("HMAC verification failed: no secret configured")
		return false
	}

	provided := r.Header.Get(collector.HeaderSignature)
	if provided == "" {
		h.logger.Warn("HMAC verification failed: missing header", "header", collector.HeaderSignature)
		return false
	}

	expected := collector.Sign(h.secret, payload)
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		h.logger.Warn("HMAC verification failed", "client_ip", normalizeIP(r.RemoteAddr))
		return false
	}
	return true
}

// normalizeIP extracts and normalizes IP address
func normalizeIP(addr string) string {
	// [::1]:8080 -> ::1
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}

	// 192.168.1.1:8080 -> 192.168.1.1
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// clientIP returns the caller's address, honouring X-Forwarded-For and
// X-Real-IP only when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return normalizeIP(r.RemoteAddr)
}
