// Package metrics registers the Prometheus instrumentation for the event
// relationship engine. Counters are package-level and registered once; the
// linking engine and ingest coordinator increment them directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LinksCreated counts bidirectional links created, by origin
	// ("autolink" or "reconcile").
	LinksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchlink",
		Name:      "links_created_total",
		Help:      "Bidirectional event links created.",
	}, []string{"origin"})

	// LinkFailures counts link-creation transactions that failed.
	LinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "matchlink",
		Name:      "link_failures_total",
		Help:      "Link-creation transactions that failed and were skipped.",
	})

	// ReconcileRuns counts retroactive reconciliation passes.
	ReconcileRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "matchlink",
		Name:      "reconcile_runs_total",
		Help:      "Retroactive linking passes executed.",
	})

	// BatchItemFailures counts bulk ingest items that failed, by operation
	// ("insert" or "update").
	BatchItemFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchlink",
		Name:      "batch_item_failures_total",
		Help:      "Bulk ingest items that failed to persist.",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(LinksCreated, LinkFailures, ReconcileRuns, BatchItemFailures)
}
