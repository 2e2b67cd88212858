package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	"gorm.io/gorm"
)

var (
	ErrInvalidSourceType    = apperror.Validation("ledger_invalid_source_type")
	ErrInvalidSourceID      = apperror.Validation("ledger_invalid_source_id")
	ErrInvalidCurrency      = apperror.Validation("ledger_invalid_currency")
	ErrInvalidOccurredAt    = apperror.Validation("ledger_invalid_occurred_at")
	ErrInvalidEntryLines    = apperror.Validation("ledger_invalid_entry_lines")
	ErrInvalidAccount       = apperror.Validation("ledger_invalid_account")
	ErrInvalidLineDirection = apperror.Validation("ledger_invalid_line_direction")
	ErrInvalidLineAmount    = apperror.Validation("ledger_invalid_line_amount")
	ErrUnbalancedEntry      = apperror.Validation("ledger_unbalanced_entry")
)

type Line struct {
	Account   LedgerAccountCode
	Direction LedgerEntryDirection
	Amount    int64
}

type Entry struct {
	SourceType  LedgerSourceType
	SourceID    string
	OrganizerID snowflake.ID
	Currency    string
	OccurredAt  time.Time
	Lines       []Line
}

type Service interface {
	// Post writes the entry in its own transaction. It reports false when the
	// source was already posted.
	Post(ctx context.Context, entry Entry) (bool, error)
	// PostTx writes the entry inside the caller's transaction.
	PostTx(ctx context.Context, tx *gorm.DB, entry Entry) (bool, error)
	// Balance returns credits minus debits on account for one organizer.
	Balance(ctx context.Context, organizerID snowflake.ID, account LedgerAccountCode, currency string) (int64, error)
}

// ValidateBalanced checks that debits equal credits. Zero-amount lines are
// allowed and ignored.
func ValidateBalanced(lines []Line) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debit += line.Amount
		case LedgerEntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}
