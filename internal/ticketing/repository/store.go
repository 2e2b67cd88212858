package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const maxCASAttempts = 3

var errVersionRace = errors.New("version_race")

type StoreParams struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type store struct {
	db    *gorm.DB
	repo  domain.Repository
	clock clock.Clock
}

func NewStore(p StoreParams) domain.Store {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &store{db: p.DB, repo: p.Repo, clock: clk}
}

func (s *store) FindByID(ctx context.Context, id snowflake.ID) (*domain.TicketGroup, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *store) FindEligibleForPayout(ctx context.Context, filter domain.PayoutFilter) ([]domain.TicketGroup, error) {
	if !filter.Mode.Valid() {
		return nil, domain.ErrInvalidEvent
	}
	return s.repo.FindEligibleForPayout(ctx, s.db, filter)
}

func (s *store) AtomicUpdate(ctx context.Context, id snowflake.ID, mutate domain.Mutation) (*domain.TicketGroup, error) {
	return s.AtomicUpdateTx(ctx, id, mutate, nil)
}

// AtomicUpdateTx re-reads and re-applies mutate when another writer bumped the version
// first; the mutation decides again on fresh state each time.
func (s *store) AtomicUpdateTx(
	ctx context.Context,
	id snowflake.ID,
	mutate domain.Mutation,
	then func(tx *gorm.DB, g *domain.TicketGroup) error,
) (*domain.TicketGroup, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.UpdatedAt = s.clock.Now().UTC()

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			swapped, err := s.repo.CompareAndSwap(ctx, tx, next, current.Version)
			if err != nil {
				return err
			}
			if !swapped {
				return errVersionRace
			}
			if then != nil {
				return then(tx, next)
			}
			return nil
		})
		if errors.Is(err, errVersionRace) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, domain.ErrConflict
}
