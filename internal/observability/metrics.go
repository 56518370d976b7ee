package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CasinoLedger.
// A nil *Metrics is valid everywhere it is accepted and records nothing.
type Metrics struct {
	// --- Ledger ---
	LedgerEntries             *prometheus.CounterVec
	LedgerRejections          *prometheus.CounterVec
	LedgerDuplicates          *prometheus.CounterVec
	LedgerInvariantViolations prometheus.Counter
	RefCacheSize              prometheus.Gauge

	// --- Casino ---
	BetsPlaced    *prometheus.CounterVec
	BetsResolved  *prometheus.CounterVec
	SeedRotations prometheus.Counter

	// --- Trading ---
	PositionsOpened     *prometheus.CounterVec
	PositionsClosed     *prometheus.CounterVec
	PositionsLiquidated *prometheus.CounterVec
	FeesCollected       *prometheus.CounterVec
	FundingPaid         *prometheus.CounterVec
	FundingReceived     *prometheus.CounterVec
	FundingSkipped      prometheus.Counter
	BorrowCharged       *prometheus.CounterVec
	RoundRotations      prometheus.Counter

	// --- Scheduler ---
	TaskRuns         *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TaskItemFailures *prometheus.CounterVec

	// --- Integrations ---
	PriceCacheResults *prometheus.CounterVec
	PublishDrops      prometheus.Counter
	PublishErrors     prometheus.Counter

	// --- Gateway ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in the service and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	taskBuckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		LedgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_ledger_entries_total",
			Help: "Ledger entries appended",
		}, []string{"type"}),

		LedgerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_ledger_rejections_total",
			Help: "Money movements rejected before any write",
		}, []string{"reason"}),

		LedgerDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_ledger_duplicates_total",
			Help: "Replayed movements absorbed by idempotency (lru/store)",
		}, []string{"tier"}),

		LedgerInvariantViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_ledger_invariant_violations_total",
			Help: "Accounts whose counters disagree with the entry fold",
		}),

		RefCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "casino_ledger_ref_cache_size",
			Help: "Idempotency keys held in the LRU",
		}),

		BetsPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_bets_placed_total",
			Help: "Bets accepted with stake locked",
		}, []string{"game"}),

		BetsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_bets_resolved_total",
			Help: "Bets settled by final status",
		}, []string{"game", "status"}),

		SeedRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_seed_rotations_total",
			Help: "User server seeds rotated",
		}),

		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_positions_opened_total",
			Help: "Futures positions opened",
		}, []string{"symbol", "side"}),

		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_positions_closed_total",
			Help: "Futures closes (partial and full)",
		}, []string{"symbol", "kind"}),

		PositionsLiquidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_positions_liquidated_total",
			Help: "Futures positions force-closed",
		}, []string{"symbol"}),

		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_fees_collected_units_total",
			Help: "Fees charged in quote smallest units",
		}, []string{"type"}),

		FundingPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_funding_paid_units_total",
			Help: "Funding paid by users in quote smallest units",
		}, []string{"symbol"}),

		FundingReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_funding_received_units_total",
			Help: "Funding received by users in quote smallest units",
		}, []string{"symbol"}),

		FundingSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_funding_skipped_total",
			Help: "Funding payments below the minimum threshold",
		}),

		BorrowCharged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_borrow_charged_units_total",
			Help: "Borrow fees charged in quote smallest units",
		}, []string{"symbol"}),

		RoundRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_round_rotations_total",
			Help: "Trading rounds created",
		}),

		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_scheduler_task_runs_total",
			Help: "Scheduled task runs by result",
		}, []string{"task", "result"}),

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casino_scheduler_task_duration_seconds",
			Help:    "Duration of a scheduled task run",
			Buckets: taskBuckets,
		}, []string{"task"}),

		TaskItemFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_scheduler_item_failures_total",
			Help: "Per-item failures skipped inside a task run",
		}, []string{"task"}),

		PriceCacheResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_price_cache_results_total",
			Help: "Spot price cache lookups (hit/miss/error)",
		}, []string{"result"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "casino_publish_errors_total",
			Help: "Events that failed to publish after retries",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_http_requests_total",
			Help: "Gateway requests by route and status code",
		}, []string{"route", "code"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casino_http_request_duration_seconds",
			Help:    "Gateway request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
