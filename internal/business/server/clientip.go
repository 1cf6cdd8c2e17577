package server

import (
	"net"
	"net/http"
	"strings"
)

// proxyHeaders are consulted in order when proxy headers are trusted.
var proxyHeaders = []string{
	"Cf-Connecting-Ip",
	"X-Real-Ip",
	"X-Forwarded-For",
	"X-Vercel-Forwarded-For",
}

// clientIP returns the address of the client. Proxy headers can be forged by
// any client and are only used when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, name := range proxyHeaders {
			v := r.Header.Get(name)
			// X-Forwarded-For is "client, proxy1, proxy2"
			if first, _, _ := strings.Cut(v, ","); strings.TrimSpace(first) != "" {
				return strings.TrimSpace(first)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
