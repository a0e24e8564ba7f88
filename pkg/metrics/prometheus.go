package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	quotesTotal      *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	submissionsTotal *prometheus.CounterVec
	consensusTotal   *prometheus.CounterVec
	slashesTotal     *prometheus.CounterVec
	slashedAmount    prometheus.Counter
	stakeOpsTotal    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		quotesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_source_quotes_total",
				Help: "Total quote fetches per source and result",
			},
			[]string{"source", "result"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quorumfeed_last_price",
				Help: "Last aggregated price for a symbol",
			},
			[]string{"symbol"},
		),
		submissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_submissions_total",
				Help: "Feed submissions by outcome",
			},
			[]string{"outcome"},
		),
		consensusTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_consensus_evaluations_total",
				Help: "Consensus evaluations by result",
			},
			[]string{"result"},
		),
		slashesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_slashes_total",
				Help: "Slash events per node",
			},
			[]string{"node"},
		),
		slashedAmount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quorumfeed_slashed_amount_total",
				Help: "Cumulative slashed stake",
			},
		),
		stakeOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_stake_operations_total",
				Help: "Staking controller operations by kind and result",
			},
			[]string{"op", "result"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumfeed_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorumfeed_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordQuote records one adapter fetch attempt. Symbol is accepted for the
// interface but kept out of labels: cardinality grows with tracked pairs.
func (r *Recorder) RecordQuote(source, symbol string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.quotesTotal.WithLabelValues(source, result).Inc()
}

// RecordLastPrice records the last aggregated price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordSubmission records a feed submission outcome.
func (r *Recorder) RecordSubmission(feedID, outcome string) {
	r.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConsensus records a consensus evaluation result.
func (r *Recorder) RecordConsensus(feedID string, reached bool) {
	result := "reached"
	if !reached {
		result = "split"
	}
	r.consensusTotal.WithLabelValues(result).Inc()
}

// RecordSlash records a slash event.
func (r *Recorder) RecordSlash(nodeAddress string, amount float64) {
	r.slashesTotal.WithLabelValues(nodeAddress).Inc()
	r.slashedAmount.Add(amount)
}

// RecordStakeOp records a staking controller operation.
func (r *Recorder) RecordStakeOp(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.stakeOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
