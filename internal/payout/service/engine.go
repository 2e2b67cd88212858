package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/config"
	gatewaydomain "github.com/smallbiznis/boxoffice/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	"github.com/smallbiznis/boxoffice/internal/money"
	obscontext "github.com/smallbiznis/boxoffice/internal/observability/context"
	obslogger "github.com/smallbiznis/boxoffice/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	organizerdomain "github.com/smallbiznis/boxoffice/internal/organizer/domain"
	"github.com/smallbiznis/boxoffice/internal/payout/domain"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultBatchSize  = 100
	defaultClaimLease = 30 * time.Minute
)

var (
	errClaimHeld      = errors.New("payout_claim_held")
	errClaimLost      = errors.New("payout_claim_lost")
	errRefundInFlight = errors.New("payout_refund_in_flight")
	errAllRefunded    = errors.New("payout_all_refunded")
	errZeroAmount     = errors.New("payout_zero_amount")
	errAmountMismatch = errors.New("payout_amount_changed_during_transfer")
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	GenID        *snowflake.Node
	Store        ticketingdomain.Store
	Directory    organizerdomain.Directory
	Gateway      gatewaydomain.Gateway
	Ledger       ledgerdomain.Service
	Policies     *config.PolicyHolder
	AuditSvc     auditdomain.Service          `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics          `optional:"true"`
	SchedMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Engine struct {
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	store        ticketingdomain.Store
	directory    organizerdomain.Directory
	gateway      gatewaydomain.Gateway
	ledger       ledgerdomain.Service
	policies     *config.PolicyHolder
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics
	tracer       trace.Tracer
}

func NewEngine(p Params) domain.Engine {
	return &Engine{
		log:          p.Log.Named("payout.engine"),
		clock:        p.Clock,
		genID:        p.GenID,
		store:        p.Store,
		directory:    p.Directory,
		gateway:      p.Gateway,
		ledger:       p.Ledger,
		policies:     p.Policies,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
		schedMetrics: p.SchedMetrics,
		tracer:       otel.Tracer("boxoffice/payout"),
	}
}

// RunPayouts pays out every eligible group once. Item failures are reported
// in the result and never abort the batch; an error is returned only when
// the candidate query fails or the run is cancelled.
func (e *Engine) RunPayouts(ctx context.Context, mode domain.Mode) (*domain.BatchResult, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	policy := e.policies.Get().Payout
	batchSize := policy.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	// A claim older than a whole run belongs to a run that died mid-transfer.
	lease := policy.RunTimeout
	if lease <= 0 {
		lease = defaultClaimLease
	}
	now := e.clock.Now().UTC()
	runID := e.genID.Generate().String()

	ctx, span := e.tracer.Start(ctx, "payout.run", trace.WithAttributes(
		attribute.String("payout.mode", string(mode)),
		attribute.String("payout.run_id", runID),
	))
	defer span.End()

	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("run_id", runID),
		zap.String("mode", string(mode)),
	)
	log.Info("payout.run.start",
		zap.Int("batch_size", batchSize),
		zap.Int("concurrency", policy.Concurrency),
	)

	result := domain.NewBatchResult(mode, now)
	var mu sync.Mutex

	var runErr error
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		groups, err := e.store.FindEligibleForPayout(ctx, ticketingdomain.PayoutFilter{
			Mode:    mode,
			Now:     now,
			AfterID: afterID,
			Limit:   batchSize,
		})
		if err != nil {
			runErr = fmt.Errorf("load payout candidates: %w", err)
			break
		}
		if len(groups) == 0 {
			break
		}

		var eg errgroup.Group
		eg.SetLimit(maxInt(policy.Concurrency, 1))
		for i := range groups {
			group := groups[i]
			eg.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				item := e.processGroup(ctx, log, &group, mode, lease)
				mu.Lock()
				result.Add(item)
				mu.Unlock()
				return nil
			})
		}
		_ = eg.Wait()

		afterID = groups[len(groups)-1].ID
		if len(groups) < batchSize {
			break
		}
	}

	result.FinishedAt = e.clock.Now().UTC()
	e.schedMetrics.AddItemsProcessed(string(mode), string(domain.ItemStatusCompleted), result.SuccessCount)
	e.schedMetrics.AddItemsProcessed(string(mode), string(domain.ItemStatusFailed), result.FailureCount)
	e.schedMetrics.AddItemsProcessed(string(mode), string(domain.ItemStatusSkipped), result.SkippedCount)

	span.SetAttributes(
		attribute.Int("payout.total_processed", result.TotalProcessed),
		attribute.Int("payout.failure_count", result.FailureCount),
	)
	fields := []zap.Field{
		zap.Int("total_processed", result.TotalProcessed),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("skipped_count", result.SkippedCount),
		zap.Int64("total_amount", result.TotalAmount),
		zap.Int64("duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds()),
	}
	if runErr != nil {
		span.SetStatus(codes.Error, "payout run aborted")
		log.Warn("payout.run.finish", append(fields, zap.Error(runErr))...)
		return result, runErr
	}
	log.Info("payout.run.finish", fields...)
	return result, nil
}

func (e *Engine) processGroup(ctx context.Context, runLog *zap.Logger, group *ticketingdomain.TicketGroup, mode domain.Mode, lease time.Duration) domain.Item {
	log := obslogger.WithGroup(runLog, group.ID.String())
	item := domain.Item{TicketGroupID: group.ID, Currency: group.Currency}

	finish := func(status domain.ItemStatus, reason string) domain.Item {
		item.Status = status
		item.Reason = reason
		e.obsMetrics.RecordPayoutItem(ctx, string(status), reason, item.Currency, item.Amount)
		switch status {
		case domain.ItemStatusFailed:
			log.Warn("payout.item.failed", zap.String("reason", reason), zap.String("error", item.Error))
		case domain.ItemStatusSkipped:
			log.Info("payout.item.skipped", zap.String("reason", reason))
		default:
			log.Info("payout.item.completed",
				zap.Int64("amount", item.Amount),
				zap.String("currency", item.Currency),
				zap.String("payout_reference", item.Reference),
			)
		}
		return item
	}

	account, err := e.directory.Lookup(ctx, group.OrganizerID)
	if err != nil {
		if errors.Is(err, organizerdomain.ErrNotFound) {
			return finish(domain.ItemStatusSkipped, domain.ReasonNoDestination)
		}
		item.Error = err.Error()
		return finish(domain.ItemStatusFailed, domain.ReasonDirectoryUnavailable)
	}
	if !account.HasDestination() {
		return finish(domain.ItemStatusSkipped, domain.ReasonNoDestination)
	}
	if account.PayoutsBlocked {
		return finish(domain.ItemStatusSkipped, domain.ReasonPayoutsBlocked)
	}
	claimedAt := e.clock.Now().UTC().Truncate(time.Microsecond)
	prorated, err := e.claim(ctx, group.ID, claimedAt, lease)
	switch {
	case errors.Is(err, errRefundInFlight):
		return finish(domain.ItemStatusSkipped, domain.ReasonRefundInFlight)
	case errors.Is(err, errAllRefunded):
		return finish(domain.ItemStatusSkipped, domain.ReasonAllRefunded)
	case errors.Is(err, errZeroAmount):
		return finish(domain.ItemStatusSkipped, domain.ReasonZeroAmount)
	case errors.Is(err, errClaimHeld):
		return finish(domain.ItemStatusSkipped, domain.ReasonPayoutInFlight)
	case err != nil && ctx.Err() != nil:
		item.Error = err.Error()
		return finish(domain.ItemStatusFailed, domain.ReasonRunCancelled)
	case err != nil:
		item.Error = err.Error()
		return finish(domain.ItemStatusFailed, domain.ReasonStateConflict)
	}
	item.Amount = prorated.NetActive

	key := domain.IdempotencyKey(group.ID, prorated.ActiveCount, prorated.NetActive)
	transfer, err := e.gateway.CreateTransfer(ctx, gatewaydomain.TransferRequest{
		Amount:               prorated.NetActive,
		Currency:             group.Currency,
		DestinationAccountID: account.DestinationAccountID,
		IdempotencyKey:       key,
		Metadata: map[string]string{
			"ticket_group_id":     group.ID.String(),
			"event_id":            group.EventID.String(),
			"organizer_id":        group.OrganizerID.String(),
			"active_ticket_count": strconv.Itoa(prorated.ActiveCount),
		},
	})
	if err != nil {
		item.Error = err.Error()
		if ctx.Err() != nil {
			// The outcome is unknown, so the claim stays until its lease runs
			// out and the next run replays the same key.
			return finish(domain.ItemStatusFailed, domain.ReasonRunCancelled)
		}
		reason := failureReason(err)
		if markErr := e.markFailed(ctx, group.ID, claimedAt, reason, mode); markErr != nil {
			item.Error = errors.Join(err, markErr).Error()
		}
		return finish(domain.ItemStatusFailed, reason)
	}

	item.Reference = transfer.ID
	if err := e.markCompleted(ctx, group.ID, claimedAt, prorated.NetActive, transfer.ID, key, mode); err != nil {
		item.Error = err.Error()
		return finish(domain.ItemStatusFailed, domain.ReasonStateConflict)
	}
	return finish(domain.ItemStatusCompleted, "")
}

// claim marks a pending group as being paid and prices it on the stored
// state. Refund requests are refused while the claim is held.
func (e *Engine) claim(ctx context.Context, id snowflake.ID, claimedAt time.Time, lease time.Duration) (money.Prorated, error) {
	var prorated money.Prorated
	_, err := e.store.AtomicUpdate(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.PayoutState != ticketingdomain.PayoutStatePending {
			return ticketingdomain.ErrInvalidPayoutState
		}
		if g.PayoutClaimedAt != nil && claimedAt.Before(g.PayoutClaimedAt.Add(lease)) {
			return errClaimHeld
		}
		if refundInFlight(g) {
			return errRefundInFlight
		}
		p, err := money.Prorate(g)
		if err != nil {
			return errZeroAmount
		}
		if p.ActiveCount == 0 {
			return errAllRefunded
		}
		if p.NetActive <= 0 {
			return errZeroAmount
		}
		prorated = p
		g.PayoutClaimedAt = &claimedAt
		return nil
	})
	return prorated, err
}

// markCompleted settles the claim. The transfer already happened, so a group
// whose tickets changed under the claim is parked as failed with the
// reference for an operator instead of being marked paid.
func (e *Engine) markCompleted(ctx context.Context, id snowflake.ID, claimedAt time.Time, amount int64, reference, key string, mode domain.Mode) error {
	completedAt := e.clock.Now().UTC()
	var mismatch bool
	_, err := e.store.AtomicUpdateTx(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.PayoutState != ticketingdomain.PayoutStatePending || !claimedBy(g, claimedAt) {
			return errClaimLost
		}
		mismatch = false
		if p, err := money.Prorate(g); err != nil || refundInFlight(g) || p.NetActive != amount {
			mismatch = true
			g.PayoutState = ticketingdomain.PayoutStateFailed
			g.PayoutFailureReason = domain.ReasonStateConflict
		} else {
			g.PayoutState = ticketingdomain.PayoutStateCompleted
			g.PayoutCompletedAt = &completedAt
			g.PayoutFailureReason = ""
		}
		g.PayoutReference = reference
		g.PayoutAmount = amount
		g.PayoutClaimedAt = nil
		return nil
	}, func(tx *gorm.DB, g *ticketingdomain.TicketGroup) error {
		entry := ledgerdomain.PayoutEntry(g.ID, g.OrganizerID, g.Currency, amount, completedAt)
		if _, err := e.ledger.PostTx(ctx, tx, entry); err != nil {
			return err
		}
		action := "payout.completed"
		if mismatch {
			action = "payout.amount_mismatch"
		}
		return e.audit(ctx, tx, action, g, map[string]any{
			"mode":             string(mode),
			"amount":           amount,
			"currency":         g.Currency,
			"payout_reference": reference,
			"idempotency_key":  key,
		})
	})
	if err != nil {
		return err
	}
	if mismatch {
		return errAmountMismatch
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, id snowflake.ID, claimedAt time.Time, reason string, mode domain.Mode) error {
	_, err := e.store.AtomicUpdateTx(ctx, id, func(g *ticketingdomain.TicketGroup) error {
		if g.PayoutState != ticketingdomain.PayoutStatePending || !claimedBy(g, claimedAt) {
			return errClaimLost
		}
		g.PayoutState = ticketingdomain.PayoutStateFailed
		g.PayoutFailureReason = reason
		g.PayoutClaimedAt = nil
		return nil
	}, func(tx *gorm.DB, g *ticketingdomain.TicketGroup) error {
		return e.audit(ctx, tx, "payout.failed", g, map[string]any{
			"mode":   string(mode),
			"reason": reason,
		})
	})
	return err
}

func (e *Engine) audit(ctx context.Context, tx *gorm.DB, action string, g *ticketingdomain.TicketGroup, metadata map[string]any) error {
	if e.auditSvc == nil {
		return nil
	}
	entry := auditdomain.Entry{
		ActorType: auditdomain.ActorTypeScheduler,
		Action:    action,
		Target:    auditdomain.TicketGroup(g.ID),
		Metadata:  metadata,
	}
	if id, role := obscontext.ActorFromContext(ctx); role != "" {
		entry.ActorType, entry.ActorID = auditdomain.ActorType(role), id
	}
	return e.auditSvc.RecordTx(ctx, tx, entry)
}

func claimedBy(g *ticketingdomain.TicketGroup, claimedAt time.Time) bool {
	return g.PayoutClaimedAt != nil && g.PayoutClaimedAt.Equal(claimedAt)
}

func refundInFlight(g *ticketingdomain.TicketGroup) bool {
	return g.RefundState == ticketingdomain.RefundStateRequested || g.RefundState == ticketingdomain.RefundStateApproved
}

func failureReason(err error) string {
	var gwErr *gatewaydomain.Error
	if errors.As(err, &gwErr) && gwErr.Code == gatewaydomain.CodeTimeout {
		return domain.ReasonTimeout
	}
	return string(gatewaydomain.KindOf(err))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
