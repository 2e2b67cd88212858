package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentState string

const (
	PaymentStatePending           PaymentState = "pending"
	PaymentStatePaid              PaymentState = "paid"
	PaymentStateFailed            PaymentState = "failed"
	PaymentStateRefunded          PaymentState = "refunded"
	PaymentStatePartiallyRefunded PaymentState = "partially_refunded"
)

type RefundState string

const (
	RefundStateNone      RefundState = "none"
	RefundStateRequested RefundState = "requested"
	// Approved marks a refund whose gateway call is in flight.
	RefundStateApproved  RefundState = "approved"
	RefundStateRejected  RefundState = "rejected"
	RefundStateCompleted RefundState = "completed"
)

type PayoutState string

const (
	PayoutStatePending   PayoutState = "pending"
	PayoutStateCompleted PayoutState = "completed"
	PayoutStateFailed    PayoutState = "failed"
)

// LineItem is one admission ticket inside a purchase.
type LineItem struct {
	TicketNumber string      `json:"ticket_number"`
	HolderName   string      `json:"holder_name"`
	HolderEmail  string      `json:"holder_email"`
	RefundState  RefundState `json:"refund_state"`
	RefundedAt   *time.Time  `json:"refunded_at,omitempty"`
}

// TicketGroup is a single purchase: N tickets of one event bought in one payment.
type TicketGroup struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID     snowflake.ID `json:"event_id" gorm:"not null;index"`
	BuyerID     snowflake.ID `json:"buyer_id" gorm:"not null;index"`
	OrganizerID snowflake.ID `json:"organizer_id" gorm:"not null;index"`

	Quantity  int                           `json:"quantity" gorm:"not null"`
	LineItems datatypes.JSONSlice[LineItem] `json:"line_items" gorm:"not null"`

	GrossAmount        int64  `json:"gross_amount" gorm:"not null"`
	PlatformFeeAmount  int64  `json:"platform_fee_amount" gorm:"not null"`
	OrganizerNetAmount int64  `json:"organizer_net_amount" gorm:"not null"`
	Currency           string `json:"currency" gorm:"type:text;not null"`

	PaymentState     PaymentState `json:"payment_state" gorm:"type:text;not null;index"`
	PaymentReference string       `json:"payment_reference,omitempty" gorm:"type:text"`

	RefundState           RefundState   `json:"refund_state" gorm:"type:text;not null"`
	RefundReason          string        `json:"refund_reason,omitempty" gorm:"type:text"`
	RefundAmount          int64         `json:"refund_amount" gorm:"not null;default:0"`
	CancellationFeeAmount int64         `json:"cancellation_fee_amount" gorm:"not null;default:0"`
	RefundRequestedBy     *snowflake.ID `json:"refund_requested_by,omitempty"`
	RefundRequestedAt     *time.Time    `json:"refund_requested_at,omitempty"`
	RefundApprovedAt      *time.Time    `json:"refund_approved_at,omitempty"`
	RefundedAt            *time.Time    `json:"refunded_at,omitempty"`
	RefundReference       string        `json:"refund_reference,omitempty" gorm:"type:text"`

	PayoutState         PayoutState `json:"payout_state" gorm:"type:text;not null;index"`
	PayoutReference     string      `json:"payout_reference,omitempty" gorm:"type:text"`
	PayoutAmount        int64       `json:"payout_amount" gorm:"not null;default:0"`
	PayoutCompletedAt   *time.Time  `json:"payout_completed_at,omitempty"`
	PayoutFailureReason string      `json:"payout_failure_reason,omitempty" gorm:"type:text"`
	// Set while a transfer for this group may be in flight.
	PayoutClaimedAt *time.Time `json:"payout_claimed_at,omitempty"`

	PurchasedAt time.Time `json:"purchased_at" gorm:"not null"`
	Version     int64     `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}

func (TicketGroup) TableName() string { return "ticket_groups" }

// TicketNumber reserves a ticket number globally.
type TicketNumber struct {
	TicketNumber  string       `gorm:"primaryKey;type:text"`
	TicketGroupID snowflake.ID `gorm:"not null;index"`
	CreatedAt     time.Time    `gorm:"not null"`
}

func (TicketNumber) TableName() string { return "ticket_numbers" }

// CompletedRefunds counts line items whose refund was executed.
func (g *TicketGroup) CompletedRefunds() int {
	n := 0
	for _, item := range g.LineItems {
		if item.RefundState == RefundStateCompleted {
			n++
		}
	}
	return n
}

// DerivePaymentState recomputes the payment state of a paid group from its line items.
func (g *TicketGroup) DerivePaymentState() PaymentState {
	switch completed := g.CompletedRefunds(); {
	case completed == 0:
		return PaymentStatePaid
	case completed >= g.Quantity:
		return PaymentStateRefunded
	default:
		return PaymentStatePartiallyRefunded
	}
}

// PayoutLocked reports whether the organizer share is being paid or was paid,
// after which the ticket amounts must not change.
func (g *TicketGroup) PayoutLocked() bool {
	return g.PayoutState == PayoutStateCompleted || g.PayoutClaimedAt != nil
}

// FindLineItem returns the index of the ticket number, or -1.
func (g *TicketGroup) FindLineItem(ticketNumber string) int {
	for i, item := range g.LineItems {
		if item.TicketNumber == ticketNumber {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to mutate.
func (g *TicketGroup) Clone() *TicketGroup {
	if g == nil {
		return nil
	}
	out := *g
	out.LineItems = make(datatypes.JSONSlice[LineItem], len(g.LineItems))
	copy(out.LineItems, g.LineItems)
	return &out
}
