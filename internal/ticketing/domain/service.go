package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/authorization"
)

type LineItemInput struct {
	TicketNumber string
	HolderName   string
	HolderEmail  string
}

type CreateGroupRequest struct {
	EventID     snowflake.ID
	BuyerID     snowflake.ID
	LineItems   []LineItemInput
	Quantity    int
	GrossAmount int64
	Currency    string
	PurchasedAt time.Time
}

// Service owns the purchase side of a ticket group: creation, payment
// confirmation and operator payout requeues.
type Service interface {
	CreateGroup(ctx context.Context, req CreateGroupRequest) (*TicketGroup, error)
	Get(ctx context.Context, id snowflake.ID) (*TicketGroup, error)
	ConfirmPayment(ctx context.Context, id snowflake.ID, reference string) (*TicketGroup, error)
	MarkPaymentFailed(ctx context.Context, id snowflake.ID, reason string) (*TicketGroup, error)
	RequeuePayout(ctx context.Context, actor authorization.Actor, id snowflake.ID) (*TicketGroup, error)
}
