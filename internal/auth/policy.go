package auth

import (
	"net/http"
	"strings"
)

// Policy decides which requests bypass auth and what role the rest require.
type Policy interface {
	IsExempt(r *http.Request) bool
	RequiredRole(r *http.Request) (Role, bool)
}

// DefaultPolicy exempts the listed path prefixes and otherwise requires
// viewer for reads and operator for writes.
type DefaultPolicy struct {
	exempt []string
}

// NewDefaultPolicy constructs the default policy.
func NewDefaultPolicy(exempt []string) DefaultPolicy {
	return DefaultPolicy{exempt: exempt}
}

// IsExempt reports whether the request path bypasses auth.
func (p DefaultPolicy) IsExempt(r *http.Request) bool {
	if r == nil {
		return false
	}
	for _, prefix := range p.exempt {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the minimum role for the request.
func (p DefaultPolicy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return RoleViewer, true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
