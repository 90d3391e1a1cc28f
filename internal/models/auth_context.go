package models

// AuthContext is one of the two authentication realms sharing the users table.
type AuthContext int

const (
	ContextAdmin AuthContext = iota
	ContextMusician
)

func (c AuthContext) String() string {
	switch c {
	case ContextAdmin:
		return "admin"
	case ContextMusician:
		return "musician"
	default:
		return "unknown"
	}
}

// Allows reports whether a role may log in through this context.
// Admin roles are barred from the musician portal and vice versa.
func (c AuthContext) Allows(role Role) bool {
	switch c {
	case ContextAdmin:
		return role.IsAdmin()
	case ContextMusician:
		return !role.IsAdmin()
	default:
		return false
	}
}
