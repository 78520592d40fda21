package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EngineMetrics holds all the metric instruments for the storage engine.
type EngineMetrics struct {
	TxnsBegunCounter     metric.Int64Counter
	TxnsCommittedCounter metric.Int64Counter
	TxnsAbortedCounter   metric.Int64Counter
	DeadlocksCounter     metric.Int64Counter
	VersionSkipsCounter  metric.Int64Counter
	LogBytesCounter      metric.Int64Counter
	RecoveriesCounter    metric.Int64Counter
	ActiveTxnsUpDown     metric.Int64UpDownCounter

	meter metric.Meter
}

// NewEngineMetrics creates and registers all the metrics for the engine.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	counter := func(name, desc, unit string) (metric.Int64Counter, error) {
		return meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	}

	txnsBegun, err := counter("gojotx.txn.begun_total", "Total number of transactions begun.", "1")
	if err != nil {
		return nil, err
	}
	txnsCommitted, err := counter("gojotx.txn.committed_total", "Total number of transactions committed.", "1")
	if err != nil {
		return nil, err
	}
	txnsAborted, err := counter("gojotx.txn.aborted_total", "Total number of transactions aborted, including automatic aborts.", "1")
	if err != nil {
		return nil, err
	}
	deadlocks, err := counter("gojotx.lock.deadlocks_total", "Total number of deadlocks detected by the lock table.", "1")
	if err != nil {
		return nil, err
	}
	versionSkips, err := counter("gojotx.mvcc.version_skips_total", "Total number of deletes rejected for version skip.", "1")
	if err != nil {
		return nil, err
	}
	logBytes, err := counter("gojotx.wal.appended_bytes", "Bytes of log payload appended.", "By")
	if err != nil {
		return nil, err
	}
	recoveries, err := counter("gojotx.recovery.runs_total", "Number of crash recoveries run at open.", "1")
	if err != nil {
		return nil, err
	}

	activeTxns, err := meter.Int64UpDownCounter(
		"gojotx.txn.active",
		metric.WithDescription("Number of active transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		TxnsBegunCounter:     txnsBegun,
		TxnsCommittedCounter: txnsCommitted,
		TxnsAbortedCounter:   txnsAborted,
		DeadlocksCounter:     deadlocks,
		VersionSkipsCounter:  versionSkips,
		LogBytesCounter:      logBytes,
		RecoveriesCounter:    recoveries,
		ActiveTxnsUpDown:     activeTxns,
		meter:                meter,
	}, nil
}

// NoopEngineMetrics returns instruments that record nothing.
func NoopEngineMetrics() *EngineMetrics {
	m, err := NewEngineMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// the noop meter never fails
		panic(err)
	}
	return m
}

// RegisterCacheStats exposes hit/miss counts of a cache as observable
// counters labelled with name. Unregister the result when the cache closes.
func (m *EngineMetrics) RegisterCacheStats(name string, stats func() (hits, misses int64)) (metric.Registration, error) {
	hits, err := m.meter.Int64ObservableCounter(
		"gojotx."+name+".hits_total",
		metric.WithDescription("Cache lookups served without loading."),
	)
	if err != nil {
		return nil, err
	}
	misses, err := m.meter.Int64ObservableCounter(
		"gojotx."+name+".misses_total",
		metric.WithDescription("Cache lookups that loaded the resource."),
	)
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		h, ms := stats()
		o.ObserveInt64(hits, h)
		o.ObserveInt64(misses, ms)
		return nil
	}, hits, misses)
}
