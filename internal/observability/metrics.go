package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the risk engine and its
// surrounding services.
type Metrics struct {
	// Lifecycle transitions, labelled by transition kind and
	// applied/rejected outcome.
	EngineTransitions  *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec

	// Pool state gauges, labelled by pool and side or custody asset.
	OpenInterestUSD *prometheus.GaugeVec
	PoolUtilization *prometheus.GaugeVec
	BorrowRateBps   *prometheus.GaugeVec

	// Keeper sweeps.
	LiquidationsExecuted *prometheus.CounterVec
	OptionsAutoExercised prometheus.Counter
	OptionsExpired       prometheus.Counter
	FuturesSettled       prometheus.Counter
	TriggerOrdersFired   *prometheus.CounterVec
	KeeperSweepDuration  *prometheus.HistogramVec

	// Persistence.
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// Event publishing.
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter
	PublishDrops    prometheus.Counter

	// Query API.
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	sweepBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0,
	}

	return &Metrics{
		EngineTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_engine_transitions_total",
			Help: "Lifecycle transitions by kind and outcome",
		}, []string{"kind", "outcome"}),

		TransitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olive_engine_transition_duration_seconds",
			Help:    "Time to apply a single lifecycle transition",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		OpenInterestUSD: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "olive_pool_open_interest_usd",
			Help: "Open interest per pool and side, 6-decimal USD",
		}, []string{"pool", "side"}),

		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "olive_pool_utilization_ratio",
			Help: "Locked over owned per custody, 0..1",
		}, []string{"pool", "asset"}),

		BorrowRateBps: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "olive_pool_borrow_rate_bps",
			Help: "Annualized borrow rate per custody in basis points",
		}, []string{"pool", "asset"}),

		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_liquidations_total",
			Help: "Forced closes by contract kind",
		}, []string{"contract"}),

		OptionsAutoExercised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_options_auto_exercised_total",
			Help: "In-the-money options settled by the expiry sweep",
		}),

		OptionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_options_expired_total",
			Help: "Out-of-the-money options retired by the expiry sweep",
		}),

		FuturesSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_futures_settled_total",
			Help: "Futures settled after expiry",
		}),

		TriggerOrdersFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_trigger_orders_fired_total",
			Help: "Executed take-profit and stop-loss orders",
		}, []string{"side"}),

		KeeperSweepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olive_keeper_sweep_duration_seconds",
			Help:    "Duration of one keeper sweep",
			Buckets: sweepBuckets,
		}, []string{"sweep"}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_persist_rows_written_total",
			Help: "Rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "olive_persist_batch_size",
			Help:    "Rows per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "olive_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_events_published_total",
			Help: "Lifecycle events published to NATS by subject",
		}, []string{"subject"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_publish_errors_total",
			Help: "NATS publish failures",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olive_publish_drops_total",
			Help: "Events dropped because the publish buffer was full",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_query_requests_total",
			Help: "Query API requests by endpoint",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olive_query_duration_seconds",
			Help:    "Query API latency by endpoint",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olive_query_errors_total",
			Help: "Query API errors by endpoint",
		}, []string{"endpoint"}),
	}
}
