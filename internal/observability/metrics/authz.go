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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthzMetrics holds the instruments recorded by authorization decisions.
// A nil *AuthzMetrics records nothing.
type AuthzMetrics struct {
	predicateEvals metric.Int64Counter
	gateDecisions  metric.Int64Counter
	gateLatency    metric.Float64Histogram
	rotations      metric.Int64Counter
}

// NewAuthzMetrics registers the authorization instruments on m.
func NewAuthzMetrics(m *Meter) (*AuthzMetrics, error) {
	predicateEvals, err := m.counter("citygate.authz.predicate.evaluations", "Permission predicate evaluations by predicate and result")
	if err != nil {
		return nil, err
	}
	gateDecisions, err := m.counter("citygate.gatekeeper.decisions", "Gatekeeper decisions by outcome")
	if err != nil {
		return nil, err
	}
	gateLatency, err := m.histogram("citygate.gatekeeper.duration", "Time spent in the gatekeeper before the handler runs", "ms")
	if err != nil {
		return nil, err
	}
	rotations, err := m.counter("citygate.session.rotations", "Credentials rotated near expiry")
	if err != nil {
		return nil, err
	}
	return &AuthzMetrics{
		predicateEvals: predicateEvals,
		gateDecisions:  gateDecisions,
		gateLatency:    gateLatency,
		rotations:      rotations,
	}, nil
}

// Predicate records one predicate evaluation.
func (a *AuthzMetrics) Predicate(ctx context.Context, name string, allowed bool) {
	if a == nil {
		return
	}
	a.predicateEvals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("predicate", name),
		attribute.Bool("allowed", allowed),
	))
}

// GateDecision records a gatekeeper outcome and its latency.
func (a *AuthzMetrics) GateDecision(ctx context.Context, outcome string, elapsed time.Duration) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	a.gateDecisions.Add(ctx, 1, attrs)
	a.gateLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// Rotation records one credential rotation.
func (a *AuthzMetrics) Rotation(ctx context.Context) {
	if a == nil {
		return
	}
	a.rotations.Add(ctx, 1)
}
