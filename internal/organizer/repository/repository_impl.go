package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/organizer/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Directory {
	return &repo{db: db}
}

func (r *repo) Lookup(ctx context.Context, organizerID snowflake.ID) (domain.PayoutAccount, error) {
	var account domain.PayoutAccount
	err := r.db.WithContext(ctx).Where("organizer_id = ?", organizerID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PayoutAccount{}, domain.ErrNotFound
		}
		return domain.PayoutAccount{}, err
	}
	return account, nil
}
