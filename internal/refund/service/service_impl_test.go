package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/config"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	eventrepo "github.com/smallbiznis/boxoffice/internal/event/repository"
	gatewaydomain "github.com/smallbiznis/boxoffice/internal/gateway/domain"
	"github.com/smallbiznis/boxoffice/internal/gateway/mocks"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/boxoffice/internal/ledger/service"
	"github.com/smallbiznis/boxoffice/internal/money"
	"github.com/smallbiznis/boxoffice/internal/refund/domain"
	"github.com/smallbiznis/boxoffice/internal/testutil"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	ticketingrepo "github.com/smallbiznis/boxoffice/internal/ticketing/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

const (
	buyerID     = snowflake.ID(501)
	organizerID = snowflake.ID(700)
)

var (
	buyer     = authorization.Actor{ID: buyerID, Role: authorization.RoleBuyer}
	organizer = authorization.Actor{ID: organizerID, Role: authorization.RoleOrganizer}
	admin     = authorization.Actor{ID: 9001, Role: authorization.RoleAdmin}
)

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	gateway *mocks.MockGateway
	store   ticketingdomain.Store
	event   eventdomain.Event
}

func newFixture(t *testing.T, policy config.Policy) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()

	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	event := eventdomain.Event{
		ID:          node.Generate(),
		OrganizerID: organizerID,
		Name:        "Harbour Lights",
		Status:      eventdomain.StatusPublished,
		StartsAt:    start.Add(24 * time.Hour),
		EndsAt:      start.Add(27 * time.Hour),
		CreatedAt:   start,
		UpdatedAt:   start,
	}
	require.NoError(t, db.Create(&event).Error)

	gw := mocks.NewMockGateway(gomock.NewController(t))
	store := ticketingrepo.NewStore(ticketingrepo.StoreParams{DB: db, Repo: ticketingrepo.Provide(), Clock: clk})
	svc := NewService(Params{
		Log:      log,
		Clock:    clk,
		Store:    store,
		Events:   eventrepo.Provide(db),
		Gateway:  gw,
		Ledger:   ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk}),
		Authz:    authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		Policies: config.NewStaticPolicyHolder(policy),
	})
	return &fixture{svc: svc, db: db, clock: clk, node: node, gateway: gw, store: store, event: event}
}

// paidGroup stores a paid purchase of qty tickets numbered T-1..T-qty.
func (f *fixture) paidGroup(t *testing.T, qty int, gross int64) *ticketingdomain.TicketGroup {
	t.Helper()
	split, err := money.SplitGross(gross, money.DefaultFeeRatio)
	require.NoError(t, err)
	group := &ticketingdomain.TicketGroup{
		ID:                 f.node.Generate(),
		EventID:            f.event.ID,
		BuyerID:            buyerID,
		OrganizerID:        organizerID,
		Quantity:           qty,
		GrossAmount:        gross,
		PlatformFeeAmount:  split.PlatformFee,
		OrganizerNetAmount: split.OrganizerNet,
		Currency:           "USD",
		PaymentState:       ticketingdomain.PaymentStatePaid,
		PaymentReference:   "pi_" + f.node.Generate().String(),
		RefundState:        ticketingdomain.RefundStateNone,
		PayoutState:        ticketingdomain.PayoutStatePending,
		PurchasedAt:        start,
		Version:            1,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	items := make(datatypes.JSONSlice[ticketingdomain.LineItem], 0, qty)
	for i := 0; i < qty; i++ {
		items = append(items, ticketingdomain.LineItem{
			TicketNumber: fmt.Sprintf("T-%d", i+1),
			RefundState:  ticketingdomain.RefundStateNone,
		})
	}
	group.LineItems = items
	require.NoError(t, ticketingrepo.Provide().Insert(context.Background(), f.db, group))
	return group
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *ticketingdomain.TicketGroup {
	t.Helper()
	g, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return g
}

func lineState(g *ticketingdomain.TicketGroup, number string) ticketingdomain.RefundState {
	return g.LineItems[g.FindLineItem(number)].RefundState
}

func TestRequestRefundQuotesSelectedTickets(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	group := f.paidGroup(t, 3, 30000)

	req, err := f.svc.RequestRefund(context.Background(), domain.RequestInput{
		GroupID: group.ID,
		Actor:   buyer,
		Reason:  "cannot attend",
		Scope:   money.ScopeTickets("T-2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"T-2"}, req.TicketNumbers)
	assert.Equal(t, int64(10000), req.Quote.GrossRefundable)
	assert.Equal(t, int64(250), req.Quote.CancellationFee)
	assert.Equal(t, int64(9750), req.Quote.NetRefund)
	assert.Equal(t, domain.IdempotencyKey(group.ID, start), req.IdempotencyKey)

	stored := f.reload(t, group.ID)
	assert.Equal(t, ticketingdomain.RefundStateRequested, stored.RefundState)
	assert.Equal(t, ticketingdomain.RefundStateRequested, lineState(stored, "T-2"))
	assert.Equal(t, ticketingdomain.RefundStateNone, lineState(stored, "T-1"))
	assert.Equal(t, int64(9750), stored.RefundAmount)
	assert.Equal(t, int64(250), stored.CancellationFeeAmount)
	assert.Equal(t, "cannot attend", stored.RefundReason)
	require.NotNil(t, stored.RefundRequestedBy)
	assert.Equal(t, buyerID, *stored.RefundRequestedBy)
	// No money moves on request.
	assert.Equal(t, ticketingdomain.PaymentStatePaid, stored.PaymentState)
}

func TestRequestRefundRejections(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 2, 20000)

	_, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "  ", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	stranger := authorization.Actor{ID: 999, Role: authorization.RoleBuyer}
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: stranger, Reason: "x", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, apperror.ErrAuthorization)

	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets()})
	assert.ErrorIs(t, err, domain.ErrEmptyScope)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets("NOPE")})
	assert.ErrorIs(t, err, money.ErrUnknownTicket)

	pending := f.paidGroup(t, 1, 1000)
	require.NoError(t, f.db.Model(&ticketingdomain.TicketGroup{}).Where("id = ?", pending.ID).
		Update("payment_state", ticketingdomain.PaymentStatePending).Error)
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: pending.ID, Actor: buyer, Reason: "x", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Set(f.event.EndsAt)
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrEventEnded)
}

func TestRequestRefundOnlyOneWins(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 2, 20000)

	_, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets("T-1")})
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: admin, Reason: "y", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRequestRefundEmptyScopePolicyAll(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.Refund.EmptyScope = config.EmptyScopeAll
	f := newFixture(t, policy)
	group := f.paidGroup(t, 3, 30000)

	req, err := f.svc.RequestRefund(context.Background(), domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets()})
	require.NoError(t, err)
	assert.Equal(t, 3, req.Quote.RefundableCount)
	assert.Equal(t, int64(30000-750), req.Quote.NetRefund)
}

func TestApproveRefundCompletesAndJournals(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 3, 30000)
	req, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "ill", Scope: money.ScopeTickets("T-2")})
	require.NoError(t, err)

	f.gateway.EXPECT().
		CreateRefund(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
			assert.Equal(t, group.PaymentReference, r.PaymentReference)
			assert.Equal(t, int64(9750), r.Amount)
			assert.Equal(t, "USD", r.Currency)
			assert.Equal(t, req.IdempotencyKey, r.IdempotencyKey)
			assert.Equal(t, group.ID.String(), r.Metadata["ticket_group_id"])
			return &gatewaydomain.RefundResult{ID: "re_1", Amount: r.Amount, Status: "succeeded"}, nil
		})

	f.clock.Advance(time.Minute)
	updated, err := f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: organizer, Action: domain.ActionApprove})
	require.NoError(t, err)

	assert.Equal(t, ticketingdomain.RefundStateCompleted, updated.RefundState)
	assert.Equal(t, ticketingdomain.PaymentStatePartiallyRefunded, updated.PaymentState)
	assert.Equal(t, "re_1", updated.RefundReference)
	require.NotNil(t, updated.RefundedAt)
	assert.Equal(t, ticketingdomain.RefundStateCompleted, lineState(updated, "T-2"))
	assert.Equal(t, ticketingdomain.RefundStateNone, lineState(updated, "T-1"))
	assert.Equal(t, 2, money.ActiveCount(updated))

	prorated, err := money.Prorate(updated)
	require.NoError(t, err)
	assert.Equal(t, int64(18000), prorated.NetActive)

	var entry ledgerdomain.LedgerEntry
	require.NoError(t, f.db.Where("source_type = ? AND source_id = ?", ledgerdomain.SourceTypeTicketRefund, req.IdempotencyKey).Take(&entry).Error)
	var lines []ledgerdomain.LedgerEntryLine
	require.NoError(t, f.db.Where("ledger_entry_id = ?", entry.ID).Find(&lines).Error)
	amounts := map[ledgerdomain.LedgerAccountCode]int64{}
	for _, line := range lines {
		amounts[line.AccountCode] = line.Amount
	}
	assert.Equal(t, int64(9000), amounts[ledgerdomain.AccountCodeOrganizerPayable])
	assert.Equal(t, int64(1000), amounts[ledgerdomain.AccountCodePlatformFeeRevenue])
	assert.Equal(t, int64(9750), amounts[ledgerdomain.AccountCodeCash])
	assert.Equal(t, int64(250), amounts[ledgerdomain.AccountCodeCancellationFeeRevenue])

	_, err = f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: organizer, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestApproveRefundFailureIsRetryable(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 1, 5000)
	_, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeAll()})
	require.NoError(t, err)

	var keys []string
	gomock.InOrder(
		f.gateway.EXPECT().CreateRefund(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, r gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
				keys = append(keys, r.IdempotencyKey)
				return nil, gatewaydomain.NewError("insufficient_funds", "platform balance too low")
			}),
		f.gateway.EXPECT().CreateRefund(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, r gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
				keys = append(keys, r.IdempotencyKey)
				return &gatewaydomain.RefundResult{ID: "re_2", Amount: r.Amount}, nil
			}),
	)

	_, err = f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: admin, Action: domain.ActionApprove})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrGateway)
	assert.Equal(t, gatewaydomain.ErrorKindInsufficientFunds, gatewaydomain.KindOf(err))
	assert.Equal(t, ticketingdomain.RefundStateRequested, f.reload(t, group.ID).RefundState)

	updated, err := f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: admin, Action: domain.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, ticketingdomain.PaymentStateRefunded, updated.PaymentState)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestRejectRefundIsTerminalForLineItems(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 2, 20000)
	_, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets("T-1")})
	require.NoError(t, err)

	other := authorization.Actor{ID: 701, Role: authorization.RoleOrganizer}
	_, err = f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: other, Action: domain.ActionReject})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: organizer, Action: "cancel"})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	rejected, err := f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: organizer, Action: domain.ActionReject})
	require.NoError(t, err)
	assert.Equal(t, ticketingdomain.RefundStateRejected, rejected.RefundState)
	assert.Equal(t, ticketingdomain.RefundStateRejected, lineState(rejected, "T-1"))

	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "again", Scope: money.ScopeTickets("T-1")})
	assert.ErrorIs(t, err, domain.ErrNoRefundableTickets)

	req, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "again", Scope: money.ScopeAll()})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-2"}, req.TicketNumbers)
}

func TestApproveReclaimsStaleExecution(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()
	group := f.paidGroup(t, 1, 5000)
	_, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeAll()})
	require.NoError(t, err)

	// Simulate a crash after the claim was taken.
	claimedAt := start
	_, err = f.store.AtomicUpdate(ctx, group.ID, func(g *ticketingdomain.TicketGroup) error {
		g.RefundState = ticketingdomain.RefundStateApproved
		g.RefundApprovedAt = &claimedAt
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: admin, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(config.DefaultPolicy().Refund.ExecutionLease)
	f.gateway.EXPECT().CreateRefund(gomock.Any(), gomock.Any()).
		Return(&gatewaydomain.RefundResult{ID: "re_3"}, nil)

	updated, err := f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: admin, Action: domain.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, ticketingdomain.RefundStateCompleted, updated.RefundState)
}

func TestApproveZeroNetRefundSkipsGateway(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.Fees.CancellationFeePerTicket = 1000
	f := newFixture(t, policy)
	ctx := context.Background()
	group := f.paidGroup(t, 2, 1500)

	req, err := f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: group.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets("T-1")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), req.Quote.NetRefund)

	updated, err := f.svc.ProcessRefund(ctx, domain.ProcessInput{GroupID: group.ID, Actor: admin, Action: domain.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, ticketingdomain.RefundStateCompleted, updated.RefundState)
	assert.Empty(t, updated.RefundReference)
}

func TestRequestRefundClosedOncePayoutClaimedOrPaid(t *testing.T) {
	f := newFixture(t, config.DefaultPolicy())
	ctx := context.Background()

	claimed := f.paidGroup(t, 3, 30000)
	_, err := f.store.AtomicUpdate(ctx, claimed.ID, func(g *ticketingdomain.TicketGroup) error {
		at := start
		g.PayoutClaimedAt = &at
		return nil
	})
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: claimed.ID, Actor: buyer, Reason: "x", Scope: money.ScopeTickets("T-1")})
	assert.ErrorIs(t, err, domain.ErrPayoutSettled)
	assert.ErrorIs(t, err, apperror.ErrStateConflict)

	paid := f.paidGroup(t, 3, 30000)
	_, err = f.store.AtomicUpdate(ctx, paid.ID, func(g *ticketingdomain.TicketGroup) error {
		g.PayoutState = ticketingdomain.PayoutStateCompleted
		g.PayoutAmount = 27000
		return nil
	})
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, domain.RequestInput{GroupID: paid.ID, Actor: buyer, Reason: "x", Scope: money.ScopeAll()})
	assert.ErrorIs(t, err, domain.ErrPayoutSettled)

	stored := f.reload(t, paid.ID)
	assert.Equal(t, ticketingdomain.RefundStateNone, stored.RefundState)
	assert.Equal(t, ticketingdomain.PaymentStatePaid, stored.PaymentState)
}
