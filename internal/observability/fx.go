package observability

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/quotameter/internal/config"
	"github.com/smallbiznis/quotameter/internal/observability/metrics"
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Metrics.Enabled,
		ExporterEndpoint: cfg.Metrics.Endpoint,
		ExporterProtocol: cfg.Metrics.Exporter,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}

// Module wires the meter provider and the domain instruments.
var Module = fx.Module("observability",
	fx.Provide(provideMetricsConfig),
	fx.Provide(metrics.NewProvider),
	fx.Provide(metrics.New),
)
