package authorization

import (
	"context"
	"errors"
)

// Roles a staff member can hold. Higher roles inherit the lower ones.
const (
	RoleCashier    = "cashier"
	RoleSupervisor = "supervisor"
	RoleManager    = "manager"
)

const (
	ObjectSession     = "session"
	ObjectTransaction = "transaction"
	ObjectWithdrawal  = "withdrawal"
	ObjectInventory   = "inventory"
	ObjectProduct     = "product"
	ObjectAuditLog    = "audit_log"
	ObjectStaffRole   = "staff_role"
	ObjectShift       = "shift"
)

const (
	ActionSessionOperate = "session.operate"
	ActionSessionResolve = "session.resolve"

	ActionTransactionView     = "transaction.view"
	ActionTransactionPosRetry = "transaction.pos_retry"

	ActionWithdrawalView         = "withdrawal.view"
	ActionWithdrawalCreate       = "withdrawal.create"
	ActionWithdrawalUpdateStatus = "withdrawal.update_status"

	ActionInventoryView = "inventory.view"

	ActionProductView   = "product.view"
	ActionProductManage = "product.manage"

	ActionAuditLogView = "audit_log.view"

	ActionStaffRoleManage = "staff_role.manage"

	ActionShiftView      = "shift.view"
	ActionShiftClose     = "shift.close"
	ActionShiftEndOfDay  = "shift.end_of_day"
	ActionShiftReconcile = "shift.reconcile"
)

type Service interface {
	// Authorize returns nil when the staff member's role grants action on
	// object at this terminal.
	Authorize(ctx context.Context, staffID, object, action string) error
	AssignRole(ctx context.Context, staffID, role string) error
	RoleOf(ctx context.Context, staffID string) (string, error)
}

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidActor = errors.New("invalid_actor")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrInvalidInput = errors.New("invalid_authorization_input")
)
