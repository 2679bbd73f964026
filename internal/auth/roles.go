package auth

import "strings"

// Role is the access level carried in a ledger token. Viewers read the
// settlement surface, operators mutate it, admins cover both.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole normalizes a claim value into a known role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleLevels[role]; !ok {
		return "", false
	}
	return role, true
}

// Known reports whether the role is one of the ledger roles.
func (r Role) Known() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether the role grants the required access level.
// Unknown roles grant nothing and satisfy nothing.
func (r Role) AtLeast(required Role) bool {
	level, ok := roleLevels[r]
	if !ok {
		return false
	}
	need, ok := roleLevels[required]
	if !ok {
		return false
	}
	return level >= need
}
