/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package metrics holds the Prometheus collectors of the repository layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

// Metrics provides observability for transactions and registry builds.
type Metrics struct {
	TransactionAttempts  *prometheus.CounterVec
	TransactionsFailed   *prometheus.CounterVec
	TransactionDuration  *prometheus.HistogramVec
	IndexesEnsured       *prometheus.CounterVec
	RegistryBuildSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entityrepo_transaction_attempts_total",
			Help: "Transaction attempts by enlistment style and outcome",
		}, []string{"style", "outcome"}),
		TransactionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entityrepo_transactions_failed_total",
			Help: "Transactions that returned an error, by reason (exhausted, fatal)",
		}, []string{"style", "reason"}),
		TransactionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entityrepo_transaction_duration_seconds",
			Help:    "Wall time of a transaction including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"style"}),
		IndexesEnsured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entityrepo_indexes_ensured_total",
			Help: "Index creation requests sent to the driver",
		}, []string{"database"}),
		RegistryBuildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "entityrepo_registry_build_duration_seconds",
			Help:    "Duration of registry builds including index creation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
}

// ObserveAttempt records one transaction attempt.
func (m *Metrics) ObserveAttempt(style, outcome string) {
	if m == nil {
		return
	}
	m.TransactionAttempts.WithLabelValues(style, outcome).Inc()
}

// ObserveFailure records a transaction that gave up.
func (m *Metrics) ObserveFailure(style, reason string) {
	if m == nil {
		return
	}
	m.TransactionsFailed.WithLabelValues(style, reason).Inc()
}

// ObserveTransaction records the duration of a whole transaction.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTransaction(style string, start time.Time) {
	if m == nil {
		return
	}
	m.TransactionDuration.WithLabelValues(style).Observe(time.Since(start).Seconds())
}

// IncrementIndexesEnsured counts an index creation request.
func (m *Metrics) IncrementIndexesEnsured(database string) {
	if m == nil {
		return
	}
	m.IndexesEnsured.WithLabelValues(database).Inc()
}

// ObserveRegistryBuild records the duration of a registry build.
func (m *Metrics) ObserveRegistryBuild(start time.Time) {
	if m == nil {
		return
	}
	m.RegistryBuildSeconds.Observe(time.Since(start).Seconds())
}
