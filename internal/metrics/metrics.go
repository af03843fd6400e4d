package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read metrics - Track contract reads and normalization
var (
	ContractReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_contract_reads_total",
			Help: "Total number of contract read calls by function and result",
		},
		[]string{"function", "result"},
	)

	PetitionsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "petitions_normalized_total",
		Help: "Total number of petitions normalized successfully",
	})

	PetitionsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_dropped_total",
			Help: "Total number of petitions dropped from list reads by failure kind",
		},
		[]string{"kind"},
	)

	MetadataFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "petitions_metadata_fetch_duration_seconds",
			Help:    "Time taken to fetch and decode an off-chain metadata document",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

// Transaction metrics - Track orchestrated writes
var (
	TxOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_tx_outcomes_total",
			Help: "Terminal transaction states by action, status and failure kind",
		},
		[]string{"action", "status", "kind"},
	)

	TxEventWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "petitions_tx_event_wait_seconds",
		Help:    "Time between receipt and the confirming contract event",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 60},
	})

	TxInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "petitions_tx_in_flight",
		Help: "Number of actions currently being orchestrated",
	})

	ReconcileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_reconcile_results_total",
			Help: "Outcome of background reconciliation for timed out transactions",
		},
		[]string{"result"},
	)
)

// Cache metrics - Track the petition cache
var (
	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_cache_refreshes_total",
			Help: "Total number of cache refreshes by kind and result",
		},
		[]string{"kind", "result"},
	)

	CacheStaleDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "petitions_cache_stale_discarded_total",
		Help: "Refresh responses discarded because a newer refresh was requested",
	})

	CachedPetitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "petitions_cached_items",
		Help: "Number of petitions currently held by the cache",
	})
)

// Storage metrics - Track uploads and pinning
var (
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_uploads_total",
			Help: "Total number of uploads by kind and result",
		},
		[]string{"kind", "result"},
	)

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "petitions_upload_bytes",
		Help:    "Size of uploaded files",
		Buckets: []float64{1 << 10, 16 << 10, 64 << 10, 128 << 10, 256 << 10, 512 << 10, 1 << 20},
	})

	GatewayFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_gateway_fetches_total",
			Help: "Pinning proxy content fetches by source and result",
		},
		[]string{"source", "result"},
	)
)

// Error metrics - Track failures
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petitions_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component"},
	)
)
