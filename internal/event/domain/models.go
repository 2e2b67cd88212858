package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Event is owned by event management; the money core only reads it.
type Event struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizerID snowflake.ID `json:"organizer_id" gorm:"not null;index"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	Status      Status       `json:"status" gorm:"type:text;not null"`
	StartsAt    time.Time    `json:"starts_at" gorm:"not null"`
	EndsAt      time.Time    `json:"ends_at" gorm:"not null;index"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Event) TableName() string { return "events" }

// HasEnded reports whether the event is over at now.
func (e Event) HasEnded(now time.Time) bool {
	return !now.Before(e.EndsAt)
}

type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Event, error)
}

var ErrNotFound = apperror.NotFound("event_not_found")
