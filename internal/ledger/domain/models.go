package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypeTicketSale      LedgerSourceType = "ticket_sale"
	SourceTypeTicketRefund    LedgerSourceType = "ticket_refund"
	SourceTypeOrganizerPayout LedgerSourceType = "organizer_payout"
)

type LedgerAccountCode string

const (
	// Assets
	AccountCodeCash LedgerAccountCode = "cash"

	// Liabilities
	AccountCodeOrganizerPayable LedgerAccountCode = "organizer_payable"

	// Revenue
	AccountCodePlatformFeeRevenue     LedgerAccountCode = "platform_fee_revenue"
	AccountCodeCancellationFeeRevenue LedgerAccountCode = "cancellation_fee_revenue"
)

// LedgerEntry captures the immutable header for a financial event. A source
// posts at most once.
type LedgerEntry struct {
	ID          snowflake.ID     `gorm:"primaryKey"`
	OrganizerID snowflake.ID     `gorm:"not null;index"`
	SourceType  LedgerSourceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:1"`
	SourceID    string           `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	Currency    string           `gorm:"type:text;not null"`
	OccurredAt  time.Time        `gorm:"not null"`
	CreatedAt   time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountCode   LedgerAccountCode    `gorm:"type:text;not null;index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }
