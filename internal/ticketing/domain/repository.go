package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type EligibilityMode string

const (
	// EligibilityAutomated selects groups whose event has already ended.
	EligibilityAutomated EligibilityMode = "automated"
	// EligibilityManual selects groups whose event is published or completed.
	EligibilityManual EligibilityMode = "manual"
)

func (m EligibilityMode) Valid() bool {
	return m == EligibilityAutomated || m == EligibilityManual
}

// PayoutFilter pages payout candidates by ascending id.
type PayoutFilter struct {
	Mode    EligibilityMode
	Now     time.Time
	AfterID snowflake.ID
	Limit   int
}

// Mutation inspects a fresh copy of the group and edits it in place.
// Returning an error aborts the update without writing.
type Mutation func(g *TicketGroup) error

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, group *TicketGroup) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TicketGroup, error)
	FindEligibleForPayout(ctx context.Context, db *gorm.DB, filter PayoutFilter) ([]TicketGroup, error)
	// CompareAndSwap writes group when the stored version still equals expectedVersion.
	CompareAndSwap(ctx context.Context, db *gorm.DB, group *TicketGroup, expectedVersion int64) (bool, error)
}

// Store is the ticket record store used by the refund and payout workflows.
type Store interface {
	FindByID(ctx context.Context, id snowflake.ID) (*TicketGroup, error)
	FindEligibleForPayout(ctx context.Context, filter PayoutFilter) ([]TicketGroup, error)
	// AtomicUpdate applies mutate to the latest copy and persists it only if no one
	// else wrote the group in between. The returned group is the persisted state.
	AtomicUpdate(ctx context.Context, id snowflake.ID, mutate Mutation) (*TicketGroup, error)
	// AtomicUpdateTx is AtomicUpdate whose write shares a transaction with then.
	AtomicUpdateTx(ctx context.Context, id snowflake.ID, mutate Mutation, then func(tx *gorm.DB, g *TicketGroup) error) (*TicketGroup, error)
}
