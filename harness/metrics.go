// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for the harness. A nil
// *Metrics disables recording, so callers never need to guard.
type Metrics struct {
	meter metric.Meter

	published        metric.Int64Counter
	delivered        metric.Int64Counter
	corruptions      metric.Int64Counter
	duplicateStreaks metric.Int64Counter

	receiveWait metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments
// initialized against the global meter provider.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("mqstress"),
	}

	var err error

	m.published, err = m.meter.Int64Counter(
		"mqstress.messages.published.total",
		metric.WithDescription("Total messages submitted by producer workers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create published counter: %w", err)
	}

	m.delivered, err = m.meter.Int64Counter(
		"mqstress.messages.delivered.total",
		metric.WithDescription("Total messages received by consumer workers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivered counter: %w", err)
	}

	m.corruptions, err = m.meter.Int64Counter(
		"mqstress.corruptions.total",
		metric.WithDescription("Total corrupted deliveries detected"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create corruptions counter: %w", err)
	}

	m.duplicateStreaks, err = m.meter.Int64Counter(
		"mqstress.duplicate_streaks.total",
		metric.WithDescription("Total completed same-message delivery streaks longer than one"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicateStreaks counter: %w", err)
	}

	m.receiveWait, err = m.meter.Float64Histogram(
		"mqstress.receive.wait.seconds",
		metric.WithDescription("Time consumer workers spent in each bounded receive"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiveWait histogram: %w", err)
	}

	return m, nil
}

// MessagePublished records one producer submission.
func (m *Metrics) MessagePublished(ctx context.Context, encoding string) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", encoding)))
}

// MessageDelivered records one consumer receipt.
func (m *Metrics) MessageDelivered(ctx context.Context, encoding string) {
	if m == nil {
		return
	}
	m.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", encoding)))
}

// CorruptionDetected records one corrupted delivery.
func (m *Metrics) CorruptionDetected(ctx context.Context, encoding string) {
	if m == nil {
		return
	}
	m.corruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", encoding)))
}

// DuplicateStreak records one completed streak of repeated deliveries.
func (m *Metrics) DuplicateStreak(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicateStreaks.Add(ctx, 1)
}

// ReceiveWait records the duration of one bounded receive.
func (m *Metrics) ReceiveWait(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.receiveWait.Record(ctx, seconds)
}
