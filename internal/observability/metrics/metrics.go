package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	refundRequests  metric.Int64Counter
	refundDecisions metric.Int64Counter
	refundAmount    metric.Int64Counter
	payoutItems     metric.Int64Counter
	payoutAmount    metric.Int64Counter
	journalEntries  metric.Int64Counter
	gatewayCalls    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("otel metrics exporting",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the domain instruments on provider's meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "boxoffice"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	instruments := []struct {
		dst  *metric.Int64Counter
		name string
		unit string
		desc string
	}{
		{&m.refundRequests, "boxoffice_refund_requests_total", "{request}", "Refund requests accepted, by scope."},
		{&m.refundDecisions, "boxoffice_refund_decisions_total", "{decision}", "Refund approvals and rejections, by outcome."},
		{&m.refundAmount, "boxoffice_refund_amount_minor_total", "{minor_unit}", "Money returned to buyers, by currency."},
		{&m.payoutItems, "boxoffice_payout_items_total", "{item}", "Payout batch items, by mode, status and reason."},
		{&m.payoutAmount, "boxoffice_payout_amount_minor_total", "{minor_unit}", "Money transferred to organizers, by currency."},
		{&m.journalEntries, "boxoffice_journal_entries_total", "{entry}", "Journal entries posted, by source."},
		{&m.gatewayCalls, "boxoffice_gateway_calls_total", "{call}", "Payment processor calls, by operation and outcome."},
	}

	var errs []error
	for _, inst := range instruments {
		counter, err := meter.Int64Counter(inst.name, metric.WithUnit(inst.unit), metric.WithDescription(inst.desc))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.name, err))
			continue
		}
		*inst.dst = counter
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoop returns instruments backed by the no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordRefundRequested counts accepted refund requests by scope kind.
func (m *Metrics) RecordRefundRequested(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope", strings.TrimSpace(scope)))
	m.refundRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefundDecision counts approve and reject outcomes.
func (m *Metrics) RecordRefundDecision(ctx context.Context, outcome, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)
	m.refundDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.refundAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordPayoutItem counts payout items by final status and reason.
func (m *Metrics) RecordPayoutItem(ctx context.Context, status, reason, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("reason", strings.TrimSpace(reason)),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)
	m.payoutItems.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.payoutAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordJournalEntry increments journal entry counts.
func (m *Metrics) RecordJournalEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.journalEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayCall counts processor calls by operation and outcome.
func (m *Metrics) RecordGatewayCall(ctx context.Context, provider, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.gatewayCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"scope":       {},
	"outcome":     {},
	"status":      {},
	"reason":      {},
	"currency":    {},
	"provider":    {},
	"operation":   {},
	"source_type": {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
