package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
)

// PayoutAccount is the organizer's connected payout destination.
type PayoutAccount struct {
	OrganizerID          snowflake.ID `json:"organizer_id" gorm:"primaryKey"`
	DestinationAccountID string       `json:"destination_account_id" gorm:"type:text"`
	PayoutsBlocked       bool         `json:"payouts_blocked" gorm:"not null;default:false"`
	UpdatedAt            time.Time    `json:"updated_at" gorm:"not null"`
}

func (PayoutAccount) TableName() string { return "organizer_payout_accounts" }

// HasDestination reports whether transfers have somewhere to go.
func (a PayoutAccount) HasDestination() bool {
	return strings.TrimSpace(a.DestinationAccountID) != ""
}

// Directory resolves organizer payout accounts. Organizers without a row
// resolve to ErrNotFound.
type Directory interface {
	Lookup(ctx context.Context, organizerID snowflake.ID) (PayoutAccount, error)
}

var ErrNotFound = apperror.NotFound("organizer_payout_account_not_found")
