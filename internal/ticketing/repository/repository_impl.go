package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	"github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, group *domain.TicketGroup) error {
	return db.WithContext(ctx).Create(group).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TicketGroup, error) {
	var group domain.TicketGroup
	err := db.WithContext(ctx).Where("id = ?", id).Take(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (r *repo) FindEligibleForPayout(ctx context.Context, db *gorm.DB, filter domain.PayoutFilter) ([]domain.TicketGroup, error) {
	query := db.WithContext(ctx).
		Model(&domain.TicketGroup{}).
		Select("ticket_groups.*").
		Joins("JOIN events ON events.id = ticket_groups.event_id").
		Where("ticket_groups.payment_state IN ?", []domain.PaymentState{
			domain.PaymentStatePaid,
			domain.PaymentStatePartiallyRefunded,
		}).
		Where("ticket_groups.payout_state = ?", domain.PayoutStatePending)

	switch filter.Mode {
	case domain.EligibilityAutomated:
		query = query.Where("events.ends_at < ?", filter.Now.UTC())
	case domain.EligibilityManual:
		query = query.Where("events.status IN ?", []eventdomain.Status{
			eventdomain.StatusPublished,
			eventdomain.StatusCompleted,
		})
	default:
		return nil, domain.ErrInvalidEvent
	}

	if filter.AfterID != 0 {
		query = query.Where("ticket_groups.id > ?", filter.AfterID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var groups []domain.TicketGroup
	if err := query.Order("ticket_groups.id ASC").Limit(limit).Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) CompareAndSwap(ctx context.Context, db *gorm.DB, group *domain.TicketGroup, expectedVersion int64) (bool, error) {
	group.Version = expectedVersion + 1
	result := db.WithContext(ctx).
		Model(&domain.TicketGroup{}).
		Where("id = ? AND version = ?", group.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(group)
	if result.Error != nil {
		group.Version = expectedVersion
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		group.Version = expectedVersion
		return false, nil
	}
	return true, nil
}
