package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	"github.com/smallbiznis/boxoffice/internal/money"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) Valid() bool { return a == ActionApprove || a == ActionReject }

type RequestInput struct {
	GroupID snowflake.ID
	Actor   authorization.Actor
	Reason  string
	Scope   money.Scope
}

type ProcessInput struct {
	GroupID snowflake.ID
	Actor   authorization.Actor
	Action  Action
}

// RefundRequest is the accepted request as recorded on the group. No money
// has moved yet.
type RefundRequest struct {
	GroupID        snowflake.ID `json:"ticket_group_id"`
	TicketNumbers  []string     `json:"ticket_numbers"`
	Reason         string       `json:"reason"`
	Quote          money.Quote  `json:"quote"`
	RequestedBy    snowflake.ID `json:"requested_by"`
	RequestedAt    time.Time    `json:"requested_at"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type Service interface {
	RequestRefund(ctx context.Context, in RequestInput) (*RefundRequest, error)
	ProcessRefund(ctx context.Context, in ProcessInput) (*ticketingdomain.TicketGroup, error)
}

// IdempotencyKey identifies one refund request towards the processor and the
// journal. Retried approvals of the same request reuse it.
func IdempotencyKey(groupID snowflake.ID, requestedAt time.Time) string {
	return fmt.Sprintf("refund:%s:%d", groupID, requestedAt.UTC().UnixMicro())
}
