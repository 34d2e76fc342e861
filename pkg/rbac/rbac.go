// Package rbac provides role-based access control checks.
package rbac

import "github.com/NicolasHaas/gorelay/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermKick:     true,
		model.PermBan:      true,
		model.PermShutdown: true,
	},
	model.RoleRegular: {
		// No privileges, chat only
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// PermName returns the log-friendly name of a permission.
func PermName(p model.Permission) string {
	switch p {
	case model.PermKick:
		return "kick"
	case model.PermBan:
		return "ban"
	case model.PermShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
