package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SaleEntry books a captured payment: the gross lands in cash and is split
// between the organizer's payable and the platform fee.
func SaleEntry(groupID, organizerID snowflake.ID, currency string, gross, fee, net int64, at time.Time) Entry {
	return Entry{
		SourceType:  SourceTypeTicketSale,
		SourceID:    groupID.String(),
		OrganizerID: organizerID,
		Currency:    currency,
		OccurredAt:  at,
		Lines: []Line{
			{Account: AccountCodeCash, Direction: LedgerEntryDirectionDebit, Amount: gross},
			{Account: AccountCodeOrganizerPayable, Direction: LedgerEntryDirectionCredit, Amount: net},
			{Account: AccountCodePlatformFeeRevenue, Direction: LedgerEntryDirectionCredit, Amount: fee},
		},
	}
}

// RefundEntry reverses the refunded share of a sale. Whatever the buyer does
// not get back stays with the platform as cancellation fee revenue.
func RefundEntry(sourceID string, organizerID snowflake.ID, currency string, netPortion, feePortion, netRefund int64, at time.Time) Entry {
	kept := netPortion + feePortion - netRefund
	return Entry{
		SourceType:  SourceTypeTicketRefund,
		SourceID:    sourceID,
		OrganizerID: organizerID,
		Currency:    currency,
		OccurredAt:  at,
		Lines: []Line{
			{Account: AccountCodeOrganizerPayable, Direction: LedgerEntryDirectionDebit, Amount: netPortion},
			{Account: AccountCodePlatformFeeRevenue, Direction: LedgerEntryDirectionDebit, Amount: feePortion},
			{Account: AccountCodeCash, Direction: LedgerEntryDirectionCredit, Amount: netRefund},
			{Account: AccountCodeCancellationFeeRevenue, Direction: LedgerEntryDirectionCredit, Amount: kept},
		},
	}
}

// PayoutEntry settles the organizer's payable for one group.
func PayoutEntry(groupID, organizerID snowflake.ID, currency string, amount int64, at time.Time) Entry {
	return Entry{
		SourceType:  SourceTypeOrganizerPayout,
		SourceID:    groupID.String(),
		OrganizerID: organizerID,
		Currency:    currency,
		OccurredAt:  at,
		Lines: []Line{
			{Account: AccountCodeOrganizerPayable, Direction: LedgerEntryDirectionDebit, Amount: amount},
			{Account: AccountCodeCash, Direction: LedgerEntryDirectionCredit, Amount: amount},
		},
	}
}
