package model

// Role represents a session's permission level.
type Role int

const (
	RoleRegular Role = iota // Can chat
	RoleAdmin               // Can kick, ban and shut the server down
)

func (r Role) String() string {
	switch r {
	case RoleRegular:
		return "regular"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	default:
		return RoleRegular
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleRegular && r <= RoleAdmin
}

// Permission represents a privileged action checked against a role.
type Permission int

const (
	PermKick Permission = iota
	PermBan
	PermShutdown
)
