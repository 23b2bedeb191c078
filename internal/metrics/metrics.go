// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesTotal          *prometheus.CounterVec
	providerRequestsTotal  *prometheus.CounterVec
	dedupMatchesTotal      *prometheus.CounterVec
	clusterAssignsTotal    *prometheus.CounterVec
	embeddingBatchSize     prometheus.Histogram
	analysisCallsTotal     *prometheus.CounterVec
	breakerState           *prometheus.GaugeVec
	cycleDurationSeconds   prometheus.Histogram
	gatekeeperVerdictTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_articles_total",
				Help: "Articles processed, labeled by pipeline outcome.",
			},
			[]string{"outcome"},
		)
		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_provider_requests_total",
				Help: "Provider fetch attempts, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)
		dedupMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_dedup_matches_total",
				Help: "Duplicate detections, labeled by tier (exact, fuzzy, semantic).",
			},
			[]string{"tier"},
		)
		clusterAssignsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cluster_assignments_total",
				Help: "Cluster id assignments, labeled by strategy (vector, topic, minted, fallback).",
			},
			[]string{"strategy"},
		)
		embeddingBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_embedding_batch_size",
				Help:    "Number of texts per embedding batch flush.",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		)
		analysisCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_analysis_calls_total",
				Help: "Deep analysis calls, labeled by model tier and result.",
			},
			[]string{"tier", "result"},
		)
		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_breaker_open",
				Help: "1 when the provider circuit is open, 0 when closed.",
			},
			[]string{"provider"},
		)
		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_cycle_duration_seconds",
				Help:    "Wall time of one full fetch cycle.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		)
		gatekeeperVerdictTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_gatekeeper_verdicts_total",
				Help: "Gatekeeper verdicts, labeled by classification and origin.",
			},
			[]string{"classification", "origin"},
		)
	})
}

// CountArticle records one pipeline outcome.
func CountArticle(outcome string) {
	if articlesTotal == nil {
		return
	}
	articlesTotal.WithLabelValues(outcome).Inc()
}

// CountProviderRequest records one provider fetch attempt.
func CountProviderRequest(provider, result string) {
	if providerRequestsTotal == nil {
		return
	}
	providerRequestsTotal.WithLabelValues(provider, result).Inc()
}

// CountDedupMatch records a duplicate detection at the given tier.
func CountDedupMatch(tier string) {
	if dedupMatchesTotal == nil {
		return
	}
	dedupMatchesTotal.WithLabelValues(tier).Inc()
}

// CountClusterAssignment records which strategy produced a cluster id.
func CountClusterAssignment(strategy string) {
	if clusterAssignsTotal == nil {
		return
	}
	clusterAssignsTotal.WithLabelValues(strategy).Inc()
}

// ObserveEmbeddingBatch records the size of a flushed embedding batch.
func ObserveEmbeddingBatch(size int) {
	if embeddingBatchSize == nil {
		return
	}
	embeddingBatchSize.Observe(float64(size))
}

// CountAnalysisCall records one deep analysis attempt.
func CountAnalysisCall(tier, result string) {
	if analysisCallsTotal == nil {
		return
	}
	analysisCallsTotal.WithLabelValues(tier, result).Inc()
}

// SetBreakerOpen reflects the breaker state for a provider.
func SetBreakerOpen(provider string, open bool) {
	if breakerState == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	breakerState.WithLabelValues(provider).Set(v)
}

// ObserveCycleDuration records the wall time of one fetch cycle.
func ObserveCycleDuration(d time.Duration) {
	if cycleDurationSeconds == nil {
		return
	}
	cycleDurationSeconds.Observe(d.Seconds())
}

// CountGatekeeperVerdict records one verdict with its origin
// (cache, blocklist, ai, fallback).
func CountGatekeeperVerdict(classification, origin string) {
	if gatekeeperVerdictTotal == nil {
		return
	}
	gatekeeperVerdictTotal.WithLabelValues(classification, origin).Inc()
}
