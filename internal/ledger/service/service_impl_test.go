package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/boxoffice/internal/audit/repository"
	auditservice "github.com/smallbiznis/boxoffice/internal/audit/service"
	"github.com/smallbiznis/boxoffice/internal/clock"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	"github.com/smallbiznis/boxoffice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var postedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(postedAt)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: audit,
	})
	return svc, db
}

func TestPostSaleIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	groupID := snowflake.ID(101)
	organizerID := snowflake.ID(7)

	entry := ledgerdomain.SaleEntry(groupID, organizerID, "usd", 30000, 3000, 27000, postedAt)
	inserted, err := svc.Post(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.Post(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	var entries int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)

	var lines int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntryLine{}).Count(&lines).Error)
	assert.Equal(t, int64(3), lines)

	payable, err := svc.Balance(ctx, organizerID, ledgerdomain.AccountCodeOrganizerPayable, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(27000), payable)
}

func TestRefundAndPayoutSettlePayable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	groupID := snowflake.ID(202)
	organizerID := snowflake.ID(9)

	_, err := svc.Post(ctx, ledgerdomain.SaleEntry(groupID, organizerID, "USD", 30000, 3000, 27000, postedAt))
	require.NoError(t, err)

	// one of three tickets refunded with a 250 cancellation fee
	_, err = svc.Post(ctx, ledgerdomain.RefundEntry("refund:202:1", organizerID, "USD", 9000, 1000, 9750, postedAt))
	require.NoError(t, err)

	payable, err := svc.Balance(ctx, organizerID, ledgerdomain.AccountCodeOrganizerPayable, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(18000), payable)

	kept, err := svc.Balance(ctx, organizerID, ledgerdomain.AccountCodeCancellationFeeRevenue, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(250), kept)

	_, err = svc.Post(ctx, ledgerdomain.PayoutEntry(groupID, organizerID, "USD", 18000, postedAt))
	require.NoError(t, err)

	payable, err = svc.Balance(ctx, organizerID, ledgerdomain.AccountCodeOrganizerPayable, "USD")
	require.NoError(t, err)
	assert.Zero(t, payable)
}

func TestPostRejectsInvalidEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	unbalanced := ledgerdomain.SaleEntry(1, 1, "USD", 100, 10, 80, postedAt)
	_, err := svc.Post(ctx, unbalanced)
	assert.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntry)

	noSource := ledgerdomain.SaleEntry(1, 1, "USD", 100, 10, 90, postedAt)
	noSource.SourceID = " "
	_, err = svc.Post(ctx, noSource)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSourceID)

	negative := ledgerdomain.PayoutEntry(1, 1, "USD", -5, postedAt)
	_, err = svc.Post(ctx, negative)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLineAmount)

	noCurrency := ledgerdomain.PayoutEntry(1, 1, "", 5, postedAt)
	_, err = svc.Post(ctx, noCurrency)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCurrency)
}

func TestPostTxRollsBackWithCaller(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		inserted, err := svc.PostTx(ctx, tx, ledgerdomain.PayoutEntry(5, 5, "USD", 100, postedAt))
		require.NoError(t, err)
		require.True(t, inserted)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var entries int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}
