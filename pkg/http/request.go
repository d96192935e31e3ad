package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for client IP extraction
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ClientMeta captures the request attributes recorded alongside issued
// refresh tokens and audit rows.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// ExtractClientMeta returns the client IP and User-Agent for a request.
// Forwarding headers are honored only when the request comes from a trusted
// proxy, so an untrusted client cannot spoof its recorded address.
func ExtractClientMeta(r *http.Request, config *IPConfig) ClientMeta {
	return ClientMeta{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// ExtractClientIP extracts the real client IP address from the request.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		// X-Forwarded-For may carry a chain; take the first valid address
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}
