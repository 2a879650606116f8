package ratelimiter

import (
	"net"
	"net/http"
	"strings"
)

const unknownIdentity = "unknown"

// Identity picks the rate-limiting bucket for r: the first X-Forwarded-For
// address when trustXFF is set, otherwise the peer host.
func Identity(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	remoteAddr := strings.TrimSpace(r.RemoteAddr)

	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	if remoteAddr != "" {
		return remoteAddr
	}

	return unknownIdentity
}
