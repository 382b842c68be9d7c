// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/opentrusty/citygate/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultInterval is how often instruments are pushed when Config.Interval
// is unset.
const DefaultInterval = 30 * time.Second

// Config holds metrics configuration. The OTLP endpoint and headers come
// from the standard OTEL_EXPORTER_OTLP_* variables.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Interval       time.Duration
}

// Meter is the process meter. It owns the provider when exporting.
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New installs a global meter provider that pushes to the OTLP endpoint
// every cfg.Interval. When disabled every instrument is a no-op.
func New(ctx context.Context, cfg Config) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(cfg.ServiceName)}, nil
	}

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	m, err := NewWithReader(ctx, cfg, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(m.provider)
	return m, nil
}

// NewWithReader builds a meter whose provider feeds reader. The provider is
// not installed globally.
func NewWithReader(ctx context.Context, cfg Config, reader sdkmetric.Reader) (*Meter, error) {
	res, err := tracing.ServiceResource(ctx, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	return &Meter{meter: provider.Meter(cfg.ServiceName), provider: provider}, nil
}

// Shutdown pushes the last collection and stops the reader.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Meter) counter(name, description string) (metric.Int64Counter, error) {
	c, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return c, nil
}

func (m *Meter) histogram(name, description, unit string) (metric.Float64Histogram, error) {
	h, err := m.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return h, nil
}
