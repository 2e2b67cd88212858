package domain

import (
	"github.com/smallbiznis/boxoffice/internal/apperror"
	"github.com/smallbiznis/boxoffice/internal/money"
)

var (
	ErrReasonRequired      = apperror.Validation("refund_reason_required")
	ErrInvalidAction       = apperror.Validation("refund_invalid_action")
	ErrEmptyScope          = money.ErrEmptyScope
	ErrUnauthorized        = apperror.Authorization("refund_unauthorized")
	ErrInvalidState        = apperror.StateConflict("refund_invalid_state")
	ErrEventEnded          = apperror.StateConflict("refund_event_ended")
	ErrNoRefundableTickets = apperror.StateConflict("no_refundable_tickets")
	ErrPayoutSettled       = apperror.StateConflict("refund_payout_settled")
)
