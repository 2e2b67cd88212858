package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/boxoffice/internal/config"
	"github.com/smallbiznis/boxoffice/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	"github.com/smallbiznis/boxoffice/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	operationRefund   = "refund"
	operationTransfer = "transfer"

	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
)

// GuardOptions configures the wrapper around a provider adapter.
type GuardOptions struct {
	Policies  *config.PolicyHolder
	Limiter   ratelimit.Limiter
	Metrics   *obsmetrics.Metrics
	Scheduler *obsmetrics.SchedulerMetrics
	Log       *zap.Logger
}

// Guarded bounds every processor call with the configured deadline, paces
// transfers and records call outcomes.
type Guarded struct {
	next      domain.Gateway
	policies  *config.PolicyHolder
	limiter   ratelimit.Limiter
	metrics   *obsmetrics.Metrics
	scheduler *obsmetrics.SchedulerMetrics
	log       *zap.Logger
	tracer    trace.Tracer
}

func NewGuarded(next domain.Gateway, opts GuardOptions) *Guarded {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLocalLimiter(0, 0)
	}
	return &Guarded{
		next:      next,
		policies:  opts.Policies,
		limiter:   limiter,
		metrics:   opts.Metrics,
		scheduler: opts.Scheduler,
		log:       log.Named("gateway"),
		tracer:    otel.Tracer("boxoffice/gateway"),
	}
}

func (g *Guarded) Provider() string {
	return g.next.Provider()
}

func (g *Guarded) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	timeout := g.policies.Get().Refund.GatewayTimeout
	ctx, span := g.tracer.Start(ctx, "gateway.CreateRefund", trace.WithAttributes(
		attribute.String("provider", g.Provider()),
		attribute.Int64("amount", req.Amount),
		attribute.String("currency", req.Currency),
	))
	defer span.End()

	var res *domain.RefundResult
	err := g.call(ctx, operationRefund, timeout, func(ctx context.Context) error {
		var err error
		res, err = g.next.CreateRefund(ctx, req)
		return err
	})
	finishSpan(span, err)
	return res, err
}

func (g *Guarded) CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	timeout := g.policies.Get().Payout.GatewayTimeout
	ctx, span := g.tracer.Start(ctx, "gateway.CreateTransfer", trace.WithAttributes(
		attribute.String("provider", g.Provider()),
		attribute.Int64("amount", req.Amount),
		attribute.String("currency", req.Currency),
	))
	defer span.End()

	if err := g.limiter.Wait(ctx); err != nil {
		err = domain.AsTimeout(err)
		finishSpan(span, err)
		return nil, err
	}

	var res *domain.TransferResult
	err := g.call(ctx, operationTransfer, timeout, func(ctx context.Context) error {
		var err error
		res, err = g.next.CreateTransfer(ctx, req)
		return err
	})
	finishSpan(span, err)
	return res, err
}

func (g *Guarded) call(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.AsTimeout(context.DeadlineExceeded)
	} else {
		err = domain.AsTimeout(err)
	}

	outcome := outcomeOK
	switch {
	case err == nil:
	case isTimeout(err):
		outcome = outcomeTimeout
	default:
		outcome = outcomeFailed
	}
	g.metrics.RecordGatewayCall(ctx, g.Provider(), operation, outcome)
	g.scheduler.ObserveGatewayCall(g.Provider(), operation, outcome, time.Since(start))

	if err != nil {
		g.log.Warn("gateway call failed",
			zap.String("operation", operation),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
	}
	return err
}

func isTimeout(err error) bool {
	var gwErr *domain.Error
	return errors.As(err, &gwErr) && gwErr.Code == domain.CodeTimeout
}

func finishSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("gateway.error_kind", string(domain.KindOf(err))))
	span.SetStatus(codes.Error, "gateway call failed")
}
