package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	auditActionDenied  = "authorization.denied"
	auditActionGranted = "authorization.granted"
	auditActionRole    = "authorization.role_assigned"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
	domain   string
}

// NewEnforcer loads policies from the casbin_rule table and seeds the role
// permissions and the configured staff roles.
func NewEnforcer(db *gorm.DB, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	dom := terminalDomain(cfg.TerminalID)
	if err := seedPolicies(enforcer, dom); err != nil {
		return nil, err
	}
	for staffID, role := range cfg.Authz.StaffRoles {
		if err := assign(enforcer, subjectFor(staffID), role, dom); err != nil {
			return nil, fmt.Errorf("seed role for %s: %w", staffID, err)
		}
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
		domain:   terminalDomain(p.Cfg.TerminalID),
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, staffID, object, action string) error {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	if object == "" || action == "" {
		return ErrInvalidInput
	}

	allowed, err := s.enforcer.Enforce(subjectFor(staffID), s.domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDecision(ctx, auditActionDenied, staffID, object, action)
		return ErrForbidden
	}
	if shouldAuditGrant(action) {
		s.auditDecision(ctx, auditActionGranted, staffID, object, action)
	}
	return nil
}

// AssignRole replaces the staff member's role at this terminal.
func (s *ServiceImpl) AssignRole(ctx context.Context, staffID, role string) error {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if err := assign(s.enforcer, subjectFor(staffID), role, s.domain); err != nil {
		return err
	}
	s.log.Info("staff role assigned", zap.String("staff_id", staffID), zap.String("role", role))
	if s.auditSvc != nil {
		_ = s.auditSvc.Record(ctx, auditActionRole, "staff", staffID, map[string]any{"role": role})
	}
	return nil
}

func (s *ServiceImpl) RoleOf(ctx context.Context, staffID string) (string, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return "", ErrInvalidActor
	}
	rules, err := s.enforcer.GetFilteredGroupingPolicy(0, subjectFor(staffID), "", s.domain)
	if err != nil {
		return "", err
	}
	for _, rule := range rules {
		if len(rule) >= 2 {
			return strings.TrimPrefix(rule[1], "role:"), nil
		}
	}
	return "", ErrForbidden
}

func (s *ServiceImpl) auditDecision(ctx context.Context, auditAction, staffID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditAction, "authorization", "capability", map[string]any{
		"object":  object,
		"action":  action,
		"subject": subjectFor(staffID),
	})
}

func assign(enforcer *casbin.SyncedEnforcer, subject, role, dom string) error {
	if !validRole(role) {
		return ErrInvalidRole
	}
	roleName := "role:" + role

	existing, err := enforcer.GetFilteredGroupingPolicy(0, subject, "", dom)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := enforcer.HasGroupingPolicy(subject, roleName, dom)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = enforcer.AddGroupingPolicy(subject, roleName, dom)
	return err
}

func validRole(role string) bool {
	switch role {
	case RoleCashier, RoleSupervisor, RoleManager:
		return true
	}
	return false
}

func subjectFor(staffID string) string {
	return "staff:" + strings.TrimSpace(staffID)
}

func terminalDomain(terminalID string) string {
	return "terminal:" + strings.ToLower(strings.TrimSpace(terminalID))
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionSessionResolve, ActionWithdrawalCreate, ActionStaffRoleManage, ActionShiftEndOfDay:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, dom string) error {
	policies := [][]string{
		// Cashier: run sessions and read what the terminal holds.
		{"role:cashier", ObjectSession, ActionSessionOperate},
		{"role:cashier", ObjectTransaction, ActionTransactionView},
		{"role:cashier", ObjectInventory, ActionInventoryView},
		{"role:cashier", ObjectProduct, ActionProductView},
		{"role:cashier", ObjectWithdrawal, ActionWithdrawalView},
		{"role:cashier", ObjectShift, ActionShiftView},
		{"role:cashier", ObjectShift, ActionShiftClose},

		// Supervisor
		{"role:supervisor", ObjectSession, ActionSessionResolve},
		{"role:supervisor", ObjectTransaction, ActionTransactionPosRetry},
		{"role:supervisor", ObjectWithdrawal, ActionWithdrawalCreate},
		{"role:supervisor", ObjectWithdrawal, ActionWithdrawalUpdateStatus},
		{"role:supervisor", ObjectShift, ActionShiftEndOfDay},
		{"role:supervisor", ObjectShift, ActionShiftReconcile},

		// Manager
		{"role:manager", ObjectProduct, ActionProductManage},
		{"role:manager", ObjectAuditLog, ActionAuditLogView},
		{"role:manager", ObjectStaffRole, ActionStaffRoleManage},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{"role:supervisor", "role:cashier"},
		{"role:manager", "role:supervisor"},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1], dom); err != nil {
			return err
		}
	}
	return nil
}
