package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	relAny   = "any"
	relOwner = "owner"
	relNone  = "none"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
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
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer without persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, action string, resource Resource) error {
	if _, err := ParseRole(string(actor.Role)); err != nil {
		return ErrInvalidActor
	}
	if actor.Role != RoleSystem && actor.ID == 0 {
		return ErrInvalidActor
	}
	object := strings.TrimSpace(resource.Object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := actor.subject()
	if actor.Role == RoleSystem {
		subject = "system"
	}
	if err := s.ensureGrouping(subject, roleName(actor.Role)); err != nil {
		return err
	}

	rel := relNone
	if resource.ownedBy(actor.ID) {
		rel = relOwner
	}
	allowed, err := s.enforcer.Enforce(subject, object, action, rel)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action, resource.ID)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping binds the subject to exactly the role it presents now.
func (s *ServiceImpl) ensureGrouping(subject, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object, action, targetID string) {
	s.log.Info("authorization denied",
		zap.String("actor_role", string(actor.Role)),
		zap.String("actor_id", actor.ID.String()),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType: auditdomain.ActorType(actor.Role),
		ActorID:   actor.ID.String(),
		Action:    "authorization.denied",
		Target:    auditdomain.Target{Type: object, ID: targetID},
		Metadata:  map[string]any{"object": object, "action": action},
	})
}

func roleName(role Role) string {
	return "role:" + string(role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Buyers act on their own purchases only.
		{"role:buyer", ObjectTicketGroup, ActionRefundRequest, relOwner},

		// Organizers decide refunds for their events.
		{"role:organizer", ObjectTicketGroup, ActionRefundProcess, relOwner},

		{"role:admin", ObjectTicketGroup, ActionRefundRequest, relAny},
		{"role:admin", ObjectTicketGroup, ActionRefundProcess, relAny},
		{"role:admin", ObjectTicketGroup, ActionPayoutRequeue, relAny},
		{"role:admin", ObjectPayout, ActionPayoutRun, relAny},
		{"role:admin", ObjectScheduler, ActionSchedulerManage, relAny},

		{"role:system", ObjectPayout, ActionPayoutRun, relAny},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
