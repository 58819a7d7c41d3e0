// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entitlementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_entitlement_decisions_total",
		Help: "Entitlement decisions by feature and result",
	}, []string{"feature", "allowed"})

	usageRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_usage_records_total",
		Help: "Usage ledger writes by feature and result (stored, deferred, failed)",
	}, []string{"feature", "result"})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_billing_webhook_events_total",
		Help: "Billing webhook deliveries by event kind and outcome",
	}, []string{"kind", "outcome"})

	pendingUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genesis_usage_pending_entries",
		Help: "Usage entries waiting in Redis for replay into the ledger",
	})

	statements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_usage_statements_total",
		Help: "Billing period statements generated by result",
	}, []string{"result"})
)

func ObserveDecision(feature string, allowed bool) {
	entitlementDecisions.WithLabelValues(feature, strconv.FormatBool(allowed)).Inc()
}

func ObserveUsage(feature, result string) {
	usageRecorded.WithLabelValues(feature, result).Inc()
}

func ObserveWebhook(kind, outcome string) {
	webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func SetPendingUsage(n int64) {
	pendingUsage.Set(float64(n))
}

func ObserveStatement(result string) {
	statements.WithLabelValues(result).Inc()
}
