package ydoc

import (
	"context"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/alimasry/go-ydoc/ydoc"

type metrics struct {
	transactions metric.Int64Counter
	updates      metric.Int64Counter
	updateBytes  metric.Int64Counter
}

func newMetrics(p metric.MeterProvider, log logr.Logger) *metrics {
	meter := p.Meter(meterName)
	m := &metrics{}
	var err error
	if m.transactions, err = meter.Int64Counter("ydoc.transactions",
		metric.WithDescription("Committed transactions that changed the document.")); err != nil {
		log.Error(err, "create counter", "name", "ydoc.transactions")
	}
	if m.updates, err = meter.Int64Counter("ydoc.updates.applied",
		metric.WithDescription("Remote updates applied.")); err != nil {
		log.Error(err, "create counter", "name", "ydoc.updates.applied")
	}
	if m.updateBytes, err = meter.Int64Counter("ydoc.updates.bytes",
		metric.WithDescription("Bytes of remote updates applied."),
		metric.WithUnit("By")); err != nil {
		log.Error(err, "create counter", "name", "ydoc.updates.bytes")
	}
	return m
}

func (m *metrics) committed(changed bool) {
	if changed && m.transactions != nil {
		m.transactions.Add(context.Background(), 1)
	}
}

func (m *metrics) applied(n int) {
	ctx := context.Background()
	if m.updates != nil {
		m.updates.Add(ctx, 1)
	}
	if m.updateBytes != nil {
		m.updateBytes.Add(ctx, int64(n))
	}
}
