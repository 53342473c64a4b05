package auth

import "time"

// Roles recognised by the gateway. Role gating is enforced server-side
// regardless of what any client chooses to display.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is an identity bound to an opaque API key. Users are provisioned
// out-of-band; the gateway only resolves and reads them. Credit balances are
// owned by the ledger, not by this record.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may call admin-only endpoints.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ValidRole reports whether role is one of the recognised roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}
