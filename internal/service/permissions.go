package service

import "kasirkredit/backend/internal/domain"

const (
	ActionSaleCreate   = "sale:create"
	ActionSaleVoid     = "sale:void"
	ActionPaymentApply = "payment:apply"
	ActionStockReceive = "stock:receive"
	ActionShiftManage  = "shift:manage"
	ActionLedgerAdmin  = "ledger:admin"
	ActionAuditRead    = "audit:read"
)

// Permissions decides whether an authenticated actor may perform an action.
type Permissions interface {
	Allowed(actor domain.Actor, action string) bool
}

// RolePermissions grants actions per role. The wildcard "*" grants everything.
type RolePermissions map[string][]string

func (p RolePermissions) Allowed(actor domain.Actor, action string) bool {
	for _, granted := range p[actor.Role] {
		if granted == "*" || granted == action {
			return true
		}
	}
	return false
}

func DefaultPermissions() RolePermissions {
	return RolePermissions{
		domain.RoleAdmin: {"*"},
		domain.RoleCashier: {
			ActionSaleCreate,
			ActionPaymentApply,
			ActionShiftManage,
		},
	}
}
