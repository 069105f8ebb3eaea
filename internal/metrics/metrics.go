// Package metrics exposes the validator's runtime counters and gauges
// over a Prometheus scrape endpoint (spec §6 "metrics: enabled, port,
// system_metrics_tick_interval_secs"). Every other component is handed
// a narrow recorder interface rather than a reference to Registry
// itself, mirroring how lifecycle's capability interfaces decouple
// callers from a concrete implementation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evalidator"

// Registry owns every metric this process exports and the HTTP handler
// that serves them.
type Registry struct {
	reg *prometheus.Registry

	BankSlot          prometheus.Gauge
	TransactionsTotal prometheus.Counter
	TransactionErrors prometheus.Counter

	AccountReads    prometheus.Counter
	AccountWrites   prometheus.Counter
	SnapshotsTotal  prometheus.Counter
	SnapshotSeconds prometheus.Histogram

	FetchLatencySeconds prometheus.Histogram
	FetchErrors         prometheus.Counter

	CommitsSubmitted prometheus.Counter
	CommitsConfirmed prometheus.Counter
	CommitsFailed    prometheus.Counter

	PubsubSubscribers *prometheus.GaugeVec
	PubsubDropped     prometheus.Counter
}

// New constructs and registers every metric; call once per process.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		BankSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bank", Name: "slot",
			Help: "Current bank slot.",
		}),
		TransactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bank", Name: "transactions_total",
			Help: "Transactions committed, successful or failed.",
		}),
		TransactionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bank", Name: "transaction_errors_total",
			Help: "Transactions committed with a non-empty error.",
		}),
		AccountReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "accountsdb", Name: "reads_total",
			Help: "Account store Get calls.",
		}),
		AccountWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "accountsdb", Name: "writes_total",
			Help: "Account store StoreBatch writes.",
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "accountsdb", Name: "snapshots_total",
			Help: "Snapshots written.",
		}),
		SnapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "accountsdb", Name: "snapshot_seconds",
			Help: "Wall-clock time spent writing a snapshot.", Buckets: prometheus.DefBuckets,
		}),
		FetchLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "fetcher", Name: "latency_seconds",
			Help: "Base-chain FetchAccount round-trip latency.", Buckets: prometheus.DefBuckets,
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetcher", Name: "errors_total",
			Help: "FetchAccount calls that returned an error.",
		}),
		CommitsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "commit", Name: "submitted_total",
			Help: "Commit transactions sent to the base chain.",
		}),
		CommitsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "commit", Name: "confirmed_total",
			Help: "Commit transactions confirmed on the base chain.",
		}),
		CommitsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "commit", Name: "failed_total",
			Help: "Commit transactions that failed submission or confirmation.",
		}),
		PubsubSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pubsub", Name: "subscribers",
			Help: "Active subscriptions by kind.",
		}, []string{"kind"}),
		PubsubDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pubsub", Name: "dropped_total",
			Help: "Updates dropped because a subscriber's channel was full.",
		}),
	}

	reg.MustRegister(
		r.BankSlot, r.TransactionsTotal, r.TransactionErrors,
		r.AccountReads, r.AccountWrites, r.SnapshotsTotal, r.SnapshotSeconds,
		r.FetchLatencySeconds, r.FetchErrors,
		r.CommitsSubmitted, r.CommitsConfirmed, r.CommitsFailed,
		r.PubsubSubscribers, r.PubsubDropped,
	)
	return r
}

// Handler returns the HTTP handler spec §6's metrics endpoint serves.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetSlot records the bank's current slot.
func (r *Registry) SetSlot(slot uint64) {
	r.BankSlot.Set(float64(slot))
}

// IncTransaction records one committed transaction, successful or not.
func (r *Registry) IncTransaction(txErr string) {
	r.TransactionsTotal.Inc()
	if txErr != "" {
		r.TransactionErrors.Inc()
	}
}

// IncAccountRead/IncAccountWrite record one accounts-store access.
func (r *Registry) IncAccountRead()             { r.AccountReads.Inc() }
func (r *Registry) IncAccountWrite(writes int)  { r.AccountWrites.Add(float64(writes)) }

// SetSubscribers records the active subscriber count for one pub/sub kind.
func (r *Registry) SetSubscribers(kind string, n int) {
	r.PubsubSubscribers.WithLabelValues(kind).Set(float64(n))
}

// IncDropped records one update dropped for a full subscriber channel.
func (r *Registry) IncDropped() { r.PubsubDropped.Inc() }

// ObserveSnapshot records how long a snapshot write took.
func (r *Registry) ObserveSnapshot(d time.Duration) {
	r.SnapshotsTotal.Inc()
	r.SnapshotSeconds.Observe(d.Seconds())
}

// ObserveFetch records one FetchAccount round trip.
func (r *Registry) ObserveFetch(d time.Duration, err error) {
	r.FetchLatencySeconds.Observe(d.Seconds())
	if err != nil {
		r.FetchErrors.Inc()
	}
}
