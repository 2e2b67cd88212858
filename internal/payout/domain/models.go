package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
)

// Mode selects which events qualify for payout.
type Mode = ticketingdomain.EligibilityMode

const (
	ModeAutomated = ticketingdomain.EligibilityAutomated
	ModeManual    = ticketingdomain.EligibilityManual
)

func ParseMode(raw string) (Mode, error) {
	mode := Mode(raw)
	if !mode.Valid() {
		return "", ErrInvalidMode
	}
	return mode, nil
}

type ItemStatus string

const (
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusSkipped   ItemStatus = "skipped"
)

const (
	ReasonNoDestination        = "no_destination_account"
	ReasonPayoutsBlocked       = "payouts_blocked"
	ReasonAllRefunded          = "all_refunded"
	ReasonZeroAmount           = "zero_amount"
	ReasonRefundInFlight       = "refund_in_flight"
	ReasonPayoutInFlight       = "payout_in_flight"
	ReasonDirectoryUnavailable = "directory_unavailable"
	ReasonStateConflict        = "state_conflict"
	ReasonRunCancelled         = "run_cancelled"
	ReasonTimeout              = "timeout"
)

type Item struct {
	TicketGroupID snowflake.ID `json:"ticket_group_id"`
	Status        ItemStatus   `json:"status"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Reference     string       `json:"reference,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type BatchResult struct {
	Mode           Mode      `json:"mode"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	TotalProcessed int       `json:"total_processed"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	SkippedCount   int       `json:"skipped_count"`
	// TotalAmount sums completed transfers across currencies; use
	// TotalsByCurrency for money figures.
	TotalAmount      int64            `json:"total_amount"`
	TotalsByCurrency map[string]int64 `json:"totals_by_currency"`
	Items            []Item           `json:"items"`
}

func NewBatchResult(mode Mode, startedAt time.Time) *BatchResult {
	return &BatchResult{
		Mode:             mode,
		StartedAt:        startedAt,
		TotalsByCurrency: map[string]int64{},
		Items:            []Item{},
	}
}

// Add records one item. It is not safe for concurrent use.
func (r *BatchResult) Add(item Item) {
	r.Items = append(r.Items, item)
	r.TotalProcessed++
	switch item.Status {
	case ItemStatusCompleted:
		r.SuccessCount++
		r.TotalAmount += item.Amount
		r.TotalsByCurrency[item.Currency] += item.Amount
	case ItemStatusFailed:
		r.FailureCount++
	default:
		r.SkippedCount++
	}
}

// Engine reconciles organizer payouts in bulk.
type Engine interface {
	RunPayouts(ctx context.Context, mode Mode) (*BatchResult, error)
}

// IdempotencyKey pins one transfer attempt to the group and the amount it
// was computed from, so a retry of the same payout is deduplicated while a
// payout recomputed after a refund is not.
func IdempotencyKey(groupID snowflake.ID, activeCount int, amount int64) string {
	return fmt.Sprintf("payout:%s:%d:%d", groupID, activeCount, amount)
}

var ErrInvalidMode = apperror.Validation("invalid_payout_mode")
