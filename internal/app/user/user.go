/*
Package user contains the identity types shared by the session layer and the relays.

An Identity is what a validated session token resolves to. It is immutable for
the lifetime of a connection: relays copy it once at upgrade time and never
re-read the account store afterwards.
*/
package user

import "fmt"

// Role is the permission class of an account. It also selects the session lifetime.
type Role string

const (
	// RoleMember is a regular approved family member.
	RoleMember Role = "member"

	// RoleAdmin is the household administrator who approves members.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Identity represents an authenticated principal.
// Fields use JSON tags because the identity is returned by the session endpoint.
type Identity struct {
	// ID is the account identifier.
	ID string `json:"id"`

	// DisplayName is the name shown next to chat messages.
	DisplayName string `json:"name"`

	// Role is the account role.
	Role Role `json:"role"`
}
