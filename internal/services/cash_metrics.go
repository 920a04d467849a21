package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const cashMetricNamespace = "github.com/hanko-field/till/internal/services/cash"

type cashMetrics struct {
	opened     metric.Int64Counter
	closed     metric.Int64Counter
	movements  metric.Int64Counter
	difference metric.Int64Histogram
}

// newCashMetrics registers shift lifecycle instruments. Instruments that fail to register are left nil and skipped.
func newCashMetrics(meter metric.Meter, logger func(context.Context, string, map[string]any)) *cashMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(cashMetricNamespace)
	}
	m := &cashMetrics{}
	report := func(name string, err error) {
		if err != nil {
			logger(context.Background(), "cash.metric_registration_failed", map[string]any{"metric": name, "error": err.Error()})
		}
	}

	var err error
	m.opened, err = meter.Int64Counter("cash.shifts.opened", metric.WithDescription("Count of shifts opened"))
	report("cash.shifts.opened", err)
	m.closed, err = meter.Int64Counter("cash.shifts.closed", metric.WithDescription("Count of shifts closed by resulting status"))
	report("cash.shifts.closed", err)
	m.movements, err = meter.Int64Counter("cash.movements.recorded", metric.WithDescription("Count of ledger movements by reason"))
	report("cash.movements.recorded", err)
	m.difference, err = meter.Int64Histogram("cash.shifts.close_difference",
		metric.WithUnit("{minor_unit}"),
		metric.WithDescription("Absolute difference between counted and expected cash at close"),
	)
	report("cash.shifts.close_difference", err)
	return m
}

func (m *cashMetrics) shiftOpened(ctx context.Context, registerID string) {
	if m == nil || m.opened == nil {
		return
	}
	m.opened.Add(ctx, 1, metric.WithAttributes(attribute.String("register", registerID)))
}

func (m *cashMetrics) shiftClosed(ctx context.Context, registerID, status string, difference int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("register", registerID), attribute.String("status", status))
	if m.closed != nil {
		m.closed.Add(ctx, 1, attrs)
	}
	if m.difference != nil {
		if difference < 0 {
			difference = -difference
		}
		m.difference.Record(ctx, difference, attrs)
	}
}

func (m *cashMetrics) movementsRecorded(ctx context.Context, movements []CashMovement) {
	if m == nil || m.movements == nil {
		return
	}
	for _, mv := range movements {
		m.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(mv.Reason))))
	}
}
