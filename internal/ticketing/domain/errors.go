package domain

import "github.com/smallbiznis/boxoffice/internal/apperror"

var (
	ErrNotFound              = apperror.NotFound("ticket_group_not_found")
	ErrConflict              = apperror.StateConflict("ticket_group_conflict")
	ErrInvalidQuantity       = apperror.Validation("invalid_quantity")
	ErrLineItemCountMismatch = apperror.Validation("line_item_count_mismatch")
	ErrInvalidTicketNumber   = apperror.Validation("invalid_ticket_number")
	ErrDuplicateTicketNumber = apperror.Validation("duplicate_ticket_number")
	ErrInvalidAmount         = apperror.Validation("invalid_amount")
	ErrInvalidCurrency       = apperror.Validation("invalid_currency")
	ErrInvalidReference      = apperror.Validation("invalid_payment_reference")
	ErrInvalidPaymentState   = apperror.StateConflict("invalid_payment_state")
	ErrInvalidPayoutState    = apperror.StateConflict("invalid_payout_state")
	ErrPayoutTransferred     = apperror.StateConflict("payout_already_transferred")
	ErrInvalidEvent          = apperror.Validation("invalid_event")
)
