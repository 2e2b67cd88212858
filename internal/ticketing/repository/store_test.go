package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/clock"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	"github.com/smallbiznis/boxoffice/internal/testutil"
	"github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"github.com/smallbiznis/boxoffice/internal/ticketing/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var now = time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)

type storeFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	store domain.Store
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(now)
	return &storeFixture{
		db:    db,
		node:  testutil.NewNode(t),
		clock: clk,
		store: repository.NewStore(repository.StoreParams{DB: db, Repo: repository.Provide(), Clock: clk}),
	}
}

func (f *storeFixture) event(t *testing.T, status eventdomain.Status, endsAt time.Time) eventdomain.Event {
	t.Helper()
	event := eventdomain.Event{
		ID:          f.node.Generate(),
		OrganizerID: 7,
		Name:        "Harbour Jazz",
		Status:      status,
		StartsAt:    endsAt.Add(-2 * time.Hour),
		EndsAt:      endsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.db.Create(&event).Error)
	return event
}

func (f *storeFixture) group(t *testing.T, event eventdomain.Event, payment domain.PaymentState, payout domain.PayoutState) *domain.TicketGroup {
	t.Helper()
	g := &domain.TicketGroup{
		ID:                 f.node.Generate(),
		EventID:            event.ID,
		BuyerID:            42,
		OrganizerID:        event.OrganizerID,
		Quantity:           1,
		GrossAmount:        10000,
		PlatformFeeAmount:  1000,
		OrganizerNetAmount: 9000,
		Currency:           "USD",
		PaymentState:       payment,
		RefundState:        domain.RefundStateNone,
		PayoutState:        payout,
		PurchasedAt:        now.Add(-time.Hour),
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	g.LineItems = datatypes.JSONSlice[domain.LineItem]{{
		TicketNumber: fmt.Sprintf("%s-1", g.ID),
		RefundState:  domain.RefundStateNone,
	}}
	require.NoError(t, repository.Provide().Insert(context.Background(), f.db, g))
	return g
}

func TestAtomicUpdateBumpsVersion(t *testing.T) {
	f := newStoreFixture(t)
	g := f.group(t, f.event(t, eventdomain.StatusPublished, now.Add(-time.Hour)), domain.PaymentStatePaid, domain.PayoutStatePending)
	f.clock.Advance(90 * time.Minute)

	updated, err := f.store.AtomicUpdate(context.Background(), g.ID, func(g *domain.TicketGroup) error {
		g.PayoutState = domain.PayoutStateFailed
		g.PayoutFailureReason = "insufficient_funds"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	stored, err := f.store.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStateFailed, stored.PayoutState)
	assert.Equal(t, "insufficient_funds", stored.PayoutFailureReason)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, stored.LineItems, 1)
	assert.True(t, stored.UpdatedAt.Equal(now.Add(90*time.Minute)), "updated_at %s", stored.UpdatedAt)
	assert.True(t, stored.CreatedAt.Equal(now))
}

func TestAtomicUpdateRetriesOnConcurrentWrite(t *testing.T) {
	f := newStoreFixture(t)
	g := f.group(t, f.event(t, eventdomain.StatusPublished, now.Add(-time.Hour)), domain.PaymentStatePaid, domain.PayoutStatePending)

	calls := 0
	updated, err := f.store.AtomicUpdate(context.Background(), g.ID, func(next *domain.TicketGroup) error {
		calls++
		if calls == 1 {
			// another writer lands between our read and our write
			require.NoError(t, f.db.Model(&domain.TicketGroup{}).
				Where("id = ?", g.ID).
				Update("version", gorm.Expr("version + 1")).Error)
		}
		next.PayoutReference = "tr_1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(3), updated.Version)
	assert.Equal(t, "tr_1", updated.PayoutReference)
}

func TestAtomicUpdateGivesUpAfterRepeatedRaces(t *testing.T) {
	f := newStoreFixture(t)
	g := f.group(t, f.event(t, eventdomain.StatusPublished, now.Add(-time.Hour)), domain.PaymentStatePaid, domain.PayoutStatePending)

	calls := 0
	_, err := f.store.AtomicUpdate(context.Background(), g.ID, func(next *domain.TicketGroup) error {
		calls++
		return f.db.Model(&domain.TicketGroup{}).
			Where("id = ?", g.ID).
			Update("version", gorm.Expr("version + 1")).Error
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestAtomicUpdateMutationErrorWritesNothing(t *testing.T) {
	f := newStoreFixture(t)
	g := f.group(t, f.event(t, eventdomain.StatusPublished, now.Add(-time.Hour)), domain.PaymentStatePaid, domain.PayoutStatePending)

	_, err := f.store.AtomicUpdate(context.Background(), g.ID, func(next *domain.TicketGroup) error {
		next.PayoutState = domain.PayoutStateCompleted
		return domain.ErrInvalidPayoutState
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPayoutState)

	stored, err := f.store.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatePending, stored.PayoutState)
	assert.Equal(t, int64(1), stored.Version)
}

func TestAtomicUpdateTxRollsBackWhenFollowUpFails(t *testing.T) {
	f := newStoreFixture(t)
	g := f.group(t, f.event(t, eventdomain.StatusPublished, now.Add(-time.Hour)), domain.PaymentStatePaid, domain.PayoutStatePending)
	boom := errors.New("journal down")

	_, err := f.store.AtomicUpdateTx(context.Background(), g.ID, func(next *domain.TicketGroup) error {
		next.PayoutState = domain.PayoutStateCompleted
		return nil
	}, func(tx *gorm.DB, _ *domain.TicketGroup) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := f.store.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatePending, stored.PayoutState)
	assert.Equal(t, int64(1), stored.Version)
}

func TestFindByIDMissing(t *testing.T) {
	f := newStoreFixture(t)
	_, err := f.store.FindByID(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindEligibleForPayout(t *testing.T) {
	f := newStoreFixture(t)
	ended := f.event(t, eventdomain.StatusCompleted, now.Add(-time.Hour))
	upcoming := f.event(t, eventdomain.StatusPublished, now.Add(48*time.Hour))
	draft := f.event(t, eventdomain.StatusDraft, now.Add(-time.Hour))

	a := f.group(t, ended, domain.PaymentStatePaid, domain.PayoutStatePending)
	b := f.group(t, ended, domain.PaymentStatePartiallyRefunded, domain.PayoutStatePending)
	c := f.group(t, upcoming, domain.PaymentStatePaid, domain.PayoutStatePending)
	d := f.group(t, draft, domain.PaymentStatePaid, domain.PayoutStatePending)
	f.group(t, ended, domain.PaymentStatePending, domain.PayoutStatePending)
	f.group(t, ended, domain.PaymentStateRefunded, domain.PayoutStatePending)
	f.group(t, ended, domain.PaymentStatePaid, domain.PayoutStateCompleted)
	f.group(t, ended, domain.PaymentStatePaid, domain.PayoutStateFailed)

	ids := func(groups []domain.TicketGroup) []snowflake.ID {
		out := make([]snowflake.ID, 0, len(groups))
		for _, g := range groups {
			out = append(out, g.ID)
		}
		return out
	}
	ctx := context.Background()

	automated, err := f.store.FindEligibleForPayout(ctx, domain.PayoutFilter{Mode: domain.EligibilityAutomated, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{a.ID, b.ID, d.ID}, ids(automated))

	manual, err := f.store.FindEligibleForPayout(ctx, domain.PayoutFilter{Mode: domain.EligibilityManual, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{a.ID, b.ID, c.ID}, ids(manual))

	page, err := f.store.FindEligibleForPayout(ctx, domain.PayoutFilter{Mode: domain.EligibilityManual, Now: now, AfterID: a.ID, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{b.ID}, ids(page))

	_, err = f.store.FindEligibleForPayout(ctx, domain.PayoutFilter{Mode: "weekly", Now: now})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}
