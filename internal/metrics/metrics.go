package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of the register, the dev backend and the
// sales aggregator. Each binary only moves the ones it owns.
type Registry struct {
	reg *prometheus.Registry

	// Register
	ActionsDispatched  *prometheus.CounterVec
	Charges            *prometheus.CounterVec
	Confirmations      *prometheus.CounterVec
	StaleConfirmations prometheus.Counter
	SalesCompleted     prometheus.Counter
	JournalAppended    prometheus.Counter
	SnapshotsWritten   prometheus.Counter
	ChargeLatencySec   prometheus.Histogram

	// Backend
	HTTPRequests       *prometheus.CounterVec
	HTTPLatencySec     *prometheus.HistogramVec
	OrdersCreated      prometheus.Counter
	StockRejections    prometheus.Counter
	PaymentsConfirmed  *prometheus.CounterVec
	IdempotentReplays  prometheus.Counter
	RateLimited        prometheus.Counter
	SaleEventsProduced prometheus.Counter

	// Recovery and aggregation
	Applied            prometheus.Counter
	Skipped            prometheus.Counter
	TTRSec             prometheus.Gauge
	ReplayBytes        prometheus.Counter
	LastManifestAgeSec prometheus.Gauge
	ConsumeLatencySec  prometheus.Histogram
	SaleEventsConsumed *prometheus.CounterVec
	TxProduced         prometheus.Counter
	TxAborted          prometheus.Counter
	TxLatencySec       prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pos_actions_dispatched_total"}, []string{"type"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pos_charges_total"}, []string{"result"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pos_confirmations_total"}, []string{"result"})
	stale := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_stale_confirmations_total"})
	sales := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_sales_completed_total"})
	journal := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_journal_appended_total"})
	snapshots := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_snapshots_written_total"})
	chargeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_charge_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	httpReqs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "posbackend_http_requests_total"}, []string{"route", "status"})
	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posbackend_http_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	orders := prometheus.NewCounter(prometheus.CounterOpts{Name: "posbackend_orders_created_total"})
	stock := prometheus.NewCounter(prometheus.CounterOpts{Name: "posbackend_stock_rejections_total"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "posbackend_payments_confirmed_total"}, []string{"status"})
	replays := prometheus.NewCounter(prometheus.CounterOpts{Name: "posbackend_idempotent_replays_total"})
	limited := prometheus.NewCounter(prometheus.CounterOpts{Name: "posbackend_rate_limited_total"})
	saleEvents := prometheus.NewCounter(prometheus.CounterOpts{Name: "posbackend_sale_events_produced_total"})

	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_replay_applied_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_replay_skipped_total"})
	ttr := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pos_recovery_ttr_seconds"})
	replayBytes := prometheus.NewCounter(prometheus.CounterOpts{Name: "pos_replay_bytes_total"})
	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pos_last_manifest_age_seconds"})
	consumeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesagg_consume_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salesagg_events_consumed_total"}, []string{"result"})
	txProduced := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesagg_tx_produced_total"})
	txAborted := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesagg_tx_aborted_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesagg_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(actions, charges, confirmations, stale, sales, journal, snapshots, chargeLatency,
		httpReqs, httpLatency, orders, stock, payments, replays, limited, saleEvents,
		applied, skipped, ttr, replayBytes, lastAge, consumeLatency,
		consumed, txProduced, txAborted, txLatency)
	return &Registry{
		reg:                r,
		ActionsDispatched:  actions,
		Charges:            charges,
		Confirmations:      confirmations,
		StaleConfirmations: stale,
		SalesCompleted:     sales,
		JournalAppended:    journal,
		SnapshotsWritten:   snapshots,
		ChargeLatencySec:   chargeLatency,
		HTTPRequests:       httpReqs,
		HTTPLatencySec:     httpLatency,
		OrdersCreated:      orders,
		StockRejections:    stock,
		PaymentsConfirmed:  payments,
		IdempotentReplays:  replays,
		RateLimited:        limited,
		SaleEventsProduced: saleEvents,
		Applied:            applied,
		Skipped:            skipped,
		TTRSec:             ttr,
		ReplayBytes:        replayBytes,
		LastManifestAgeSec: lastAge,
		ConsumeLatencySec:  consumeLatency,
		SaleEventsConsumed: consumed,
		TxProduced:         txProduced,
		TxAborted:          txAborted,
		TxLatencySec:       txLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry to tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
