package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/config"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	"github.com/smallbiznis/boxoffice/internal/money"
	"github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"github.com/smallbiznis/boxoffice/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Store    domain.Store
	Events   eventdomain.Repository
	Policies *config.PolicyHolder
	Ledger   ledgerdomain.Service
	Authz    authorization.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	store    domain.Store
	events   eventdomain.Repository
	policies *config.PolicyHolder
	ledger   ledgerdomain.Service
	authz    authorization.Service
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ticketing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		store:    p.Store,
		events:   p.Events,
		policies: p.Policies,
		ledger:   p.Ledger,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (*domain.TicketGroup, error) {
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if len(req.LineItems) != req.Quantity {
		return nil, domain.ErrLineItemCountMismatch
	}
	if req.GrossAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	if req.EventID == 0 || req.BuyerID == 0 {
		return nil, domain.ErrInvalidEvent
	}

	seen := make(map[string]struct{}, len(req.LineItems))
	items := make(datatypes.JSONSlice[domain.LineItem], 0, len(req.LineItems))
	numbers := make([]string, 0, len(req.LineItems))
	for _, input := range req.LineItems {
		number := strings.TrimSpace(input.TicketNumber)
		if number == "" {
			return nil, domain.ErrInvalidTicketNumber
		}
		if _, dup := seen[number]; dup {
			return nil, domain.ErrDuplicateTicketNumber
		}
		seen[number] = struct{}{}
		numbers = append(numbers, number)
		items = append(items, domain.LineItem{
			TicketNumber: number,
			HolderName:   strings.TrimSpace(input.HolderName),
			HolderEmail:  strings.TrimSpace(input.HolderEmail),
			RefundState:  domain.RefundStateNone,
		})
	}

	event, err := s.events.FindByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	split, err := money.SplitGross(req.GrossAmount, s.policies.Get().Fees.FeeRatio())
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	purchasedAt := req.PurchasedAt.UTC()
	if req.PurchasedAt.IsZero() {
		purchasedAt = now
	}
	group := &domain.TicketGroup{
		ID:                 s.genID.Generate(),
		EventID:            event.ID,
		BuyerID:            req.BuyerID,
		OrganizerID:        event.OrganizerID,
		Quantity:           req.Quantity,
		LineItems:          items,
		GrossAmount:        req.GrossAmount,
		PlatformFeeAmount:  split.PlatformFee,
		OrganizerNetAmount: split.OrganizerNet,
		Currency:           currency,
		PaymentState:       domain.PaymentStatePending,
		RefundState:        domain.RefundStateNone,
		PayoutState:        domain.PayoutStatePending,
		PurchasedAt:        purchasedAt,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&domain.TicketNumber{}).Where("ticket_number IN ?", numbers).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return domain.ErrDuplicateTicketNumber
		}
		if err := s.repo.Insert(ctx, tx, group); err != nil {
			return err
		}
		reservations := make([]domain.TicketNumber, 0, len(numbers))
		for _, number := range numbers {
			reservations = append(reservations, domain.TicketNumber{
				TicketNumber:  number,
				TicketGroupID: group.ID,
				CreatedAt:     now,
			})
		}
		return tx.WithContext(ctx).Create(&reservations).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateTicketNumber
		}
		return nil, err
	}

	s.log.Info("ticket group created",
		zap.String("ticket_group_id", group.ID.String()),
		zap.String("event_id", group.EventID.String()),
		zap.Int("quantity", group.Quantity),
		zap.Int64("gross_amount", group.GrossAmount),
		zap.String("currency", group.Currency),
	)
	return group, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.TicketGroup, error) {
	return s.store.FindByID(ctx, id)
}

// ConfirmPayment marks a pending group paid and books the sale. Confirming an
// already paid group with the same reference returns it unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, id snowflake.ID, reference string) (*domain.TicketGroup, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}

	var already bool
	updated, err := s.store.AtomicUpdateTx(ctx, id, func(g *domain.TicketGroup) error {
		already = false
		switch g.PaymentState {
		case domain.PaymentStatePending:
		case domain.PaymentStatePaid:
			if g.PaymentReference == reference {
				already = true
				return errAlreadyApplied
			}
			return domain.ErrInvalidPaymentState
		default:
			return domain.ErrInvalidPaymentState
		}
		g.PaymentState = domain.PaymentStatePaid
		g.PaymentReference = reference
		return nil
	}, func(tx *gorm.DB, g *domain.TicketGroup) error {
		entry := ledgerdomain.SaleEntry(g.ID, g.OrganizerID, g.Currency, g.GrossAmount, g.PlatformFeeAmount, g.OrganizerNetAmount, s.clock.Now())
		if _, err := s.ledger.PostTx(ctx, tx, entry); err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.ActorTypeSystem, "", "ticket_group.payment_confirmed", g, map[string]any{
			"payment_reference": reference,
			"gross_amount":      g.GrossAmount,
			"currency":          g.Currency,
		})
	})
	if errors.Is(err, errAlreadyApplied) && already {
		return s.store.FindByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("payment confirmed", zap.String("ticket_group_id", id.String()))
	return updated, nil
}

func (s *Service) MarkPaymentFailed(ctx context.Context, id snowflake.ID, reason string) (*domain.TicketGroup, error) {
	reason = strings.TrimSpace(reason)
	updated, err := s.store.AtomicUpdateTx(ctx, id, func(g *domain.TicketGroup) error {
		if g.PaymentState != domain.PaymentStatePending {
			return domain.ErrInvalidPaymentState
		}
		g.PaymentState = domain.PaymentStateFailed
		return nil
	}, func(tx *gorm.DB, g *domain.TicketGroup) error {
		return s.audit(ctx, tx, auditdomain.ActorTypeSystem, "", "ticket_group.payment_failed", g, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payment failed", zap.String("ticket_group_id", id.String()), zap.String("reason", reason))
	return updated, nil
}

// RequeuePayout puts a failed payout back in line for the next batch.
func (s *Service) RequeuePayout(ctx context.Context, actor authorization.Actor, id snowflake.ID) (*domain.TicketGroup, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ActionPayoutRequeue, authorization.Resource{
		Object: authorization.ObjectTicketGroup,
		ID:     id.String(),
	}); err != nil {
		return nil, err
	}

	var previousReason string
	updated, err := s.store.AtomicUpdateTx(ctx, id, func(g *domain.TicketGroup) error {
		if g.PayoutState != domain.PayoutStateFailed {
			return domain.ErrInvalidPayoutState
		}
		// Money already left for this group; settle it by hand.
		if g.PayoutReference != "" {
			return domain.ErrPayoutTransferred
		}
		previousReason = g.PayoutFailureReason
		g.PayoutState = domain.PayoutStatePending
		g.PayoutFailureReason = ""
		return nil
	}, func(tx *gorm.DB, g *domain.TicketGroup) error {
		return s.audit(ctx, tx, auditdomain.ActorType(actor.Role), actor.ID.String(), "payout.requeued", g, map[string]any{
			"previous_failure_reason": previousReason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payout requeued",
		zap.String("ticket_group_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("previous_failure_reason", previousReason),
	)
	return updated, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorType auditdomain.ActorType, actorID string, action string, g *domain.TicketGroup, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
		ActorType: actorType,
		ActorID:   actorID,
		Action:    action,
		Target:    auditdomain.TicketGroup(g.ID),
		Metadata:  metadata,
	})
}

var errAlreadyApplied = errors.New("already_applied")
