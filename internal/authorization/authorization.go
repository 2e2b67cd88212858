package authorization

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleBuyer     Role = "buyer"
	RoleOrganizer Role = "organizer"
	RoleSystem    Role = "system"
)

func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleAdmin, RoleBuyer, RoleOrganizer, RoleSystem:
		return role, nil
	default:
		return "", ErrInvalidActor
	}
}

// Actor is the authenticated caller. Identity is established upstream.
type Actor struct {
	ID   snowflake.ID
	Role Role
}

// SystemActor is used for scheduled runs.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) subject() string { return "user:" + a.ID.String() }

const (
	ObjectTicketGroup = "ticket_group"
	ObjectPayout      = "payout"
	ObjectScheduler   = "scheduler"
)

const (
	ActionRefundRequest   = "refund.request"
	ActionRefundProcess   = "refund.process"
	ActionPayoutRun       = "payout.run"
	ActionPayoutRequeue   = "payout.requeue"
	ActionSchedulerManage = "scheduler.manage"
)

// Resource is the thing being acted on. Owners are the ids that count as
// owning it for the action at hand, e.g. the buyer for a refund request.
type Resource struct {
	Object string
	ID     string
	Owners []snowflake.ID
}

func (r Resource) ownedBy(id snowflake.ID) bool {
	if id == 0 {
		return false
	}
	for _, owner := range r.Owners {
		if owner == id {
			return true
		}
	}
	return false
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, action string, resource Resource) error
}

var (
	ErrForbidden     = apperror.Authorization("forbidden")
	ErrInvalidActor  = apperror.Authorization("invalid_actor")
	ErrInvalidObject = apperror.Validation("authorization_invalid_object")
	ErrInvalidAction = apperror.Validation("authorization_invalid_action")
)
