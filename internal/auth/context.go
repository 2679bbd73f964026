package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Party string
	Role  Role
}

// WithIdentity attaches the authenticated identity to the context.
func WithIdentity(ctx context.Context, party string, role Role) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Party: party, Role: role})
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// PartyFromContext returns the authenticated party, or empty.
func PartyFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Party
}

// RoleFromContext returns the authenticated role, or empty.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}
