package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/config"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	gatewaydomain "github.com/smallbiznis/boxoffice/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	"github.com/smallbiznis/boxoffice/internal/money"
	"github.com/smallbiznis/boxoffice/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	"github.com/smallbiznis/boxoffice/internal/refund/domain"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Store      ticketingdomain.Store
	Events     eventdomain.Repository
	Gateway    gatewaydomain.Gateway
	Ledger     ledgerdomain.Service
	Authz      authorization.Service
	Policies   *config.PolicyHolder
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	store      ticketingdomain.Store
	events     eventdomain.Repository
	gateway    gatewaydomain.Gateway
	ledger     ledgerdomain.Service
	authz      authorization.Service
	policies   *config.PolicyHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("refund.service"),
		clock:      p.Clock,
		store:      p.Store,
		events:     p.Events,
		gateway:    p.Gateway,
		ledger:     p.Ledger,
		authz:      p.Authz,
		policies:   p.Policies,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RequestRefund(ctx context.Context, in domain.RequestInput) (*domain.RefundRequest, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}

	group, err := s.store.FindByID(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.Actor, authorization.ActionRefundRequest, group, group.BuyerID); err != nil {
		return nil, err
	}
	if err := requestable(group); err != nil {
		return nil, err
	}

	event, err := s.events.FindByID(ctx, group.EventID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	if event.HasEnded(now) {
		return nil, domain.ErrEventEnded
	}

	policy := s.policies.Get()
	scope := in.Scope
	scopeLabel := "tickets"
	if scope.All() {
		scopeLabel = "all"
	}
	if scope.Empty() {
		if policy.Refund.EmptyScope != config.EmptyScopeAll {
			return nil, domain.ErrEmptyScope
		}
		scope = money.ScopeAll()
		scopeLabel = "empty_as_all"
	}

	var quote money.Quote
	updated, err := s.store.AtomicUpdateTx(ctx, group.ID, func(g *ticketingdomain.TicketGroup) error {
		if err := requestable(g); err != nil {
			return err
		}
		q, err := money.QuoteRefund(g, scope, policy.Fees.CancellationFeePerTicket)
		if err != nil {
			return err
		}
		if q.RefundableCount == 0 {
			return domain.ErrNoRefundableTickets
		}
		quote = q

		for _, number := range q.TicketNumbers {
			g.LineItems[g.FindLineItem(number)].RefundState = ticketingdomain.RefundStateRequested
		}
		requestedBy := in.Actor.ID
		g.RefundState = ticketingdomain.RefundStateRequested
		g.RefundReason = reason
		g.RefundAmount = q.NetRefund
		g.CancellationFeeAmount = q.CancellationFee
		g.RefundRequestedBy = &requestedBy
		g.RefundRequestedAt = &now
		g.RefundApprovedAt = nil
		g.RefundReference = ""
		return nil
	}, func(tx *gorm.DB, g *ticketingdomain.TicketGroup) error {
		return s.audit(ctx, tx, in.Actor, "refund.requested", g, map[string]any{
			"reason":           reason,
			"ticket_numbers":   quote.TicketNumbers,
			"net_refund":       quote.NetRefund,
			"cancellation_fee": quote.CancellationFee,
			"currency":         g.Currency,
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRefundRequested(ctx, scopeLabel)
	s.logFor(ctx, updated).Info("refund.requested",
		zap.Strings("ticket_numbers", quote.TicketNumbers),
		zap.Int64("net_refund", quote.NetRefund),
		zap.Int64("cancellation_fee", quote.CancellationFee),
	)

	return &domain.RefundRequest{
		GroupID:        updated.ID,
		TicketNumbers:  quote.TicketNumbers,
		Reason:         reason,
		Quote:          quote,
		RequestedBy:    in.Actor.ID,
		RequestedAt:    now,
		IdempotencyKey: domain.IdempotencyKey(updated.ID, now),
	}, nil
}

func (s *Service) ProcessRefund(ctx context.Context, in domain.ProcessInput) (*ticketingdomain.TicketGroup, error) {
	if !in.Action.Valid() {
		return nil, domain.ErrInvalidAction
	}
	group, err := s.store.FindByID(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.Actor, authorization.ActionRefundProcess, group, group.OrganizerID); err != nil {
		return nil, err
	}

	if in.Action == domain.ActionReject {
		return s.reject(ctx, in.Actor, group.ID)
	}
	return s.approve(ctx, in.Actor, group.ID)
}

func (s *Service) reject(ctx context.Context, actor authorization.Actor, id snowflake.ID) (*ticketingdomain.TicketGroup, error) {
	updated, err := s.store.AtomicUpdateTx(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.RefundState != ticketingdomain.RefundStateRequested {
			return domain.ErrInvalidState
		}
		g.RefundState = ticketingdomain.RefundStateRejected
		for i := range g.LineItems {
			if g.LineItems[i].RefundState == ticketingdomain.RefundStateRequested {
				g.LineItems[i].RefundState = ticketingdomain.RefundStateRejected
			}
		}
		return nil
	}, func(tx *gorm.DB, g *ticketingdomain.TicketGroup) error {
		return s.audit(ctx, tx, actor, "refund.rejected", g, map[string]any{
			"reason": g.RefundReason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordRefundDecision(ctx, "rejected", updated.Currency, 0)
	s.logFor(ctx, updated).Info("refund.rejected")
	return updated, nil
}

// approve claims the request, moves the money and completes the group. A
// failed processor call releases the claim so the request can be retried.
func (s *Service) approve(ctx context.Context, actor authorization.Actor, id snowflake.ID) (*ticketingdomain.TicketGroup, error) {
	policy := s.policies.Get()
	claimedAt := s.clock.Now().UTC().Truncate(time.Microsecond)

	claimed, err := s.store.AtomicUpdate(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		switch g.RefundState {
		case ticketingdomain.RefundStateRequested:
		case ticketingdomain.RefundStateApproved:
			if !claimExpired(g, claimedAt, policy.Refund.ExecutionLease) {
				return domain.ErrInvalidState
			}
		default:
			return domain.ErrInvalidState
		}
		if g.RefundRequestedAt == nil {
			return domain.ErrInvalidState
		}
		if g.PayoutLocked() {
			return domain.ErrPayoutSettled
		}
		g.RefundState = ticketingdomain.RefundStateApproved
		g.RefundApprovedAt = &claimedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := s.logFor(ctx, claimed)

	quote, err := requestedQuote(claimed)
	if err != nil {
		s.release(ctx, id, claimedAt)
		return nil, err
	}
	key := domain.IdempotencyKey(claimed.ID, *claimed.RefundRequestedAt)

	var reference string
	if quote.NetRefund > 0 {
		result, err := s.gateway.CreateRefund(ctx, gatewaydomain.RefundRequest{
			PaymentReference: claimed.PaymentReference,
			Amount:           quote.NetRefund,
			Currency:         claimed.Currency,
			IdempotencyKey:   key,
			Metadata: map[string]string{
				"ticket_group_id": claimed.ID.String(),
				"event_id":        claimed.EventID.String(),
				"ticket_numbers":  strings.Join(quote.TicketNumbers, ","),
			},
		})
		if err != nil {
			s.release(ctx, id, claimedAt)
			s.obsMetrics.RecordRefundDecision(ctx, "failed", claimed.Currency, 0)
			log.Warn("refund.gateway_failed",
				zap.String("gateway_error_kind", string(gatewaydomain.KindOf(err))),
				zap.Error(err),
			)
			return nil, err
		}
		reference = result.ID
	}

	completedAt := s.clock.Now().UTC()
	updated, err := s.store.AtomicUpdateTx(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.RefundState != ticketingdomain.RefundStateApproved || g.RefundApprovedAt == nil || !g.RefundApprovedAt.Equal(claimedAt) {
			return domain.ErrInvalidState
		}
		for i := range g.LineItems {
			if g.LineItems[i].RefundState == ticketingdomain.RefundStateRequested {
				g.LineItems[i].RefundState = ticketingdomain.RefundStateCompleted
				g.LineItems[i].RefundedAt = &completedAt
			}
		}
		g.RefundState = ticketingdomain.RefundStateCompleted
		g.RefundedAt = &completedAt
		g.RefundReference = reference
		g.PaymentState = g.DerivePaymentState()
		return nil
	}, func(tx *gorm.DB, g *ticketingdomain.TicketGroup) error {
		entry := ledgerdomain.RefundEntry(key, g.OrganizerID, g.Currency, quote.NetPortion, quote.FeePortion, quote.NetRefund, completedAt)
		if _, err := s.ledger.PostTx(ctx, tx, entry); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "refund.completed", g, map[string]any{
			"refund_reference": reference,
			"net_refund":       quote.NetRefund,
			"ticket_numbers":   quote.TicketNumbers,
			"payment_state":    string(g.PaymentState),
		})
	})
	if err != nil {
		// The processor already accepted the refund; the claim stays until
		// its lease runs out and a retry replays the same key.
		log.Error("refund.complete_failed", zap.String("refund_reference", reference), zap.Error(err))
		return nil, err
	}

	s.obsMetrics.RecordRefundDecision(ctx, "completed", updated.Currency, quote.NetRefund)
	log.Info("refund.completed",
		zap.String("refund_reference", reference),
		zap.Int64("net_refund", quote.NetRefund),
		zap.String("payment_state", string(updated.PaymentState)),
	)
	return updated, nil
}

// release reverts an approve claim back to requested.
func (s *Service) release(ctx context.Context, id snowflake.ID, claimedAt time.Time) {
	_, err := s.store.AtomicUpdate(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.RefundState != ticketingdomain.RefundStateApproved || g.RefundApprovedAt == nil || !g.RefundApprovedAt.Equal(claimedAt) {
			return errClaimLost
		}
		g.RefundState = ticketingdomain.RefundStateRequested
		g.RefundApprovedAt = nil
		return nil
	})
	if err != nil && !errors.Is(err, errClaimLost) {
		s.log.Error("refund.release_failed", zap.String("ticket_group_id", id.String()), zap.Error(err))
	}
}

func (s *Service) authorize(ctx context.Context, actor authorization.Actor, action string, g *ticketingdomain.TicketGroup, owner snowflake.ID) error {
	err := s.authz.Authorize(ctx, actor, action, authorization.Resource{
		Object: authorization.ObjectTicketGroup,
		ID:     g.ID.String(),
		Owners: []snowflake.ID{owner},
	})
	if errors.Is(err, apperror.ErrAuthorization) {
		return domain.ErrUnauthorized
	}
	return err
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, g *ticketingdomain.TicketGroup, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
		ActorType: auditdomain.ActorType(actor.Role),
		ActorID:   actor.ID.String(),
		Action:    action,
		Target:    auditdomain.TicketGroup(g.ID),
		Metadata:  metadata,
	})
}

func (s *Service) logFor(ctx context.Context, g *ticketingdomain.TicketGroup) *zap.Logger {
	return logger.WithGroup(logger.WithContext(ctx, s.log), g.ID.String())
}

func requestable(g *ticketingdomain.TicketGroup) error {
	if g.PaymentState != ticketingdomain.PaymentStatePaid {
		return domain.ErrInvalidState
	}
	if g.PayoutLocked() {
		return domain.ErrPayoutSettled
	}
	switch g.RefundState {
	case ticketingdomain.RefundStateNone, ticketingdomain.RefundStateRejected:
		return nil
	default:
		return domain.ErrInvalidState
	}
}

func claimExpired(g *ticketingdomain.TicketGroup, now time.Time, lease time.Duration) bool {
	if g.RefundApprovedAt == nil {
		return true
	}
	return !now.Before(g.RefundApprovedAt.Add(lease))
}

// requestedQuote re-prices the line items awaiting refund from the amounts
// stored at request time, so policy changes in between do not alter it.
func requestedQuote(g *ticketingdomain.TicketGroup) (money.Quote, error) {
	repriced := g.Clone()
	var numbers []string
	for i, item := range repriced.LineItems {
		if item.RefundState == ticketingdomain.RefundStateRequested {
			numbers = append(numbers, item.TicketNumber)
			repriced.LineItems[i].RefundState = ticketingdomain.RefundStateNone
		}
	}
	if len(numbers) == 0 {
		return money.Quote{}, domain.ErrNoRefundableTickets
	}
	feePerTicket := g.CancellationFeeAmount / int64(len(numbers))
	return money.QuoteRefund(repriced, money.ScopeTickets(numbers...), feePerTicket)
}

var errClaimLost = errors.New("refund_claim_lost")
