package repository

import (
	"context"

	"github.com/smallbiznis/boxoffice/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return repo{}
}

func (repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

// ListByTarget returns a record's history oldest first.
func (repo) ListByTarget(ctx context.Context, db *gorm.DB, target domain.Target, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := db.WithContext(ctx).
		Where(&domain.AuditLog{TargetType: target.Type, TargetID: &target.ID}).
		Order("created_at, id").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
