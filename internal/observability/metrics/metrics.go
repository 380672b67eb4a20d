// Package metrics exposes the application-level OTLP instruments.
package metrics

import (
	"context"
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
	captures      metric.Int64Counter
	reversals     metric.Int64Counter
	expirations   metric.Int64Counter
	roleSyncs     metric.Int64Counter
	notifications metric.Int64Counter
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
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "clavis"
	}
	meter := provider.Meter(name)

	captures, err := meter.Int64Counter("clavis_payment_captures_total")
	if err != nil {
		return nil, err
	}
	reversals, err := meter.Int64Counter("clavis_payment_reversals_total")
	if err != nil {
		return nil, err
	}
	expirations, err := meter.Int64Counter("clavis_membership_expirations_total")
	if err != nil {
		return nil, err
	}
	roleSyncs, err := meter.Int64Counter("clavis_role_syncs_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("clavis_notifications_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		captures:      captures,
		reversals:     reversals,
		expirations:   expirations,
		roleSyncs:     roleSyncs,
		notifications: notifications,
	}, nil
}

// RecordCapture increments capture counts per grant kind.
func (m *Metrics) RecordCapture(ctx context.Context, provider, grantKind string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("grant_kind", strings.TrimSpace(grantKind)),
	)
	m.captures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReversal increments reversal counts.
func (m *Metrics) RecordReversal(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reversals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExpiration increments sweeper expiration counts.
func (m *Metrics) RecordExpiration(ctx context.Context, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.expirations.Add(ctx, count)
}

// RecordRoleSync increments role reconciliation counts.
func (m *Metrics) RecordRoleSync(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.roleSyncs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotification increments notification delivery counts.
func (m *Metrics) RecordNotification(ctx context.Context, channel, eventType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"provider":   {},
	"grant_kind": {},
	"outcome":    {},
	"channel":    {},
	"event_type": {},
}

func filterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0]
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.AsString() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
