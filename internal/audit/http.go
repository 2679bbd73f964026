package audit

import (
	"net"
	"net/http"
	"strings"
)

// Source identifies where a mutating ledger call came from.
type Source struct {
	IP        string
	UserAgent string
}

// RequestSource extracts the caller address and agent from a request.
// Forwarding headers are trusted only when they carry a parseable address.
func RequestSource(r *http.Request) Source {
	if r == nil {
		return Source{}
	}
	return Source{IP: callerIP(r), UserAgent: r.UserAgent()}
}

func callerIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
