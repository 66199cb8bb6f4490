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

// Metrics exposes accounting-engine instruments.
type Metrics struct {
	gateAllowed       metric.Int64Counter
	gateDenied        metric.Int64Counter
	sessionsStarted   metric.Int64Counter
	sessionsCompleted metric.Int64Counter
	sessionsReclaimed metric.Int64Counter
	unitsDeducted     metric.Int64Counter
	refreshUpdated    metric.Int64Counter
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
		name = "quotameter"
	}
	meter := provider.Meter(name)

	gateAllowed, err := meter.Int64Counter("quotameter_gate_allowed_total")
	if err != nil {
		return nil, err
	}
	gateDenied, err := meter.Int64Counter("quotameter_gate_denied_total")
	if err != nil {
		return nil, err
	}
	sessionsStarted, err := meter.Int64Counter("quotameter_sessions_started_total")
	if err != nil {
		return nil, err
	}
	sessionsCompleted, err := meter.Int64Counter("quotameter_sessions_completed_total")
	if err != nil {
		return nil, err
	}
	sessionsReclaimed, err := meter.Int64Counter("quotameter_sessions_reclaimed_total")
	if err != nil {
		return nil, err
	}
	unitsDeducted, err := meter.Int64Counter("quotameter_units_deducted_total")
	if err != nil {
		return nil, err
	}
	refreshUpdated, err := meter.Int64Counter("quotameter_refresh_users_updated_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gateAllowed:       gateAllowed,
		gateDenied:        gateDenied,
		sessionsStarted:   sessionsStarted,
		sessionsCompleted: sessionsCompleted,
		sessionsReclaimed: sessionsReclaimed,
		unitsDeducted:     unitsDeducted,
		refreshUpdated:    refreshUpdated,
	}, nil
}

// RecordGateDecision counts quota gate outcomes by resource type.
func (m *Metrics) RecordGateDecision(ctx context.Context, resourceType string, allowed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("resource_type", strings.TrimSpace(resourceType)))
	if allowed {
		m.gateAllowed.Add(ctx, 1, attrs)
		return
	}
	m.gateDenied.Add(ctx, 1, attrs)
}

// RecordSessionStarted counts opened usage sessions.
func (m *Metrics) RecordSessionStarted(ctx context.Context, resourceType string) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
	))
}

// RecordSessionCompleted counts normal session closes and the units charged.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, resourceType string, quotaConsumed int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("resource_type", strings.TrimSpace(resourceType)))
	m.sessionsCompleted.Add(ctx, 1, attrs)
	if quotaConsumed > 0 {
		m.unitsDeducted.Add(ctx, quotaConsumed, attrs)
	}
}

// RecordSessionReclaimed counts stale sessions swept without charge.
func (m *Metrics) RecordSessionReclaimed(ctx context.Context, resourceType string) {
	if m == nil {
		return
	}
	m.sessionsReclaimed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
	))
}

// RecordRefreshUpdated counts accounts touched by a batch refresh rule.
func (m *Metrics) RecordRefreshUpdated(ctx context.Context, ruleName string, usersUpdated int64) {
	if m == nil || usersUpdated <= 0 {
		return
	}
	m.refreshUpdated.Add(ctx, usersUpdated, metric.WithAttributes(
		attribute.String("rule_name", strings.TrimSpace(ruleName)),
	))
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
