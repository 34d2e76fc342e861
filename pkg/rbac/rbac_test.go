package rbac

import (
	"testing"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

func TestHasPermission(t *testing.T) {
	perms := []model.Permission{model.PermKick, model.PermBan, model.PermShutdown}
	for _, p := range perms {
		if !HasPermission(model.RoleAdmin, p) {
			t.Errorf("admin should have %s", PermName(p))
		}
		if HasPermission(model.RoleRegular, p) {
			t.Errorf("regular should not have %s", PermName(p))
		}
		if HasPermission(model.Role(42), p) {
			t.Errorf("unknown role should not have %s", PermName(p))
		}
	}
}
