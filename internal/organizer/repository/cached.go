package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/cache"
	"github.com/smallbiznis/boxoffice/internal/organizer/domain"
)

const (
	defaultAccountTTL  = time.Minute
	defaultNotFoundTTL = 15 * time.Second
)

type cachedDirectory struct {
	next     domain.Directory
	accounts cache.Cache[snowflake.ID, domain.PayoutAccount]
	missing  cache.Cache[snowflake.ID, struct{}]
}

// NewCachedDirectory memoizes lookups for the duration of a payout batch.
func NewCachedDirectory(next domain.Directory) domain.Directory {
	return &cachedDirectory{
		next:     next,
		accounts: cache.NewTTLCache[snowflake.ID, domain.PayoutAccount](),
		missing:  cache.NewTTLCache[snowflake.ID, struct{}](),
	}
}

func (c *cachedDirectory) Lookup(ctx context.Context, organizerID snowflake.ID) (domain.PayoutAccount, error) {
	if account, ok := c.accounts.Get(organizerID); ok {
		return account, nil
	}
	if _, ok := c.missing.Get(organizerID); ok {
		return domain.PayoutAccount{}, domain.ErrNotFound
	}

	account, err := c.next.Lookup(ctx, organizerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.missing.Set(organizerID, struct{}{}, defaultNotFoundTTL)
		}
		return domain.PayoutAccount{}, err
	}
	c.accounts.Set(organizerID, account, defaultAccountTTL)
	return account, nil
}
