package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsIngested *prometheus.CounterVec
	signalsDropped  *prometheus.CounterVec
	bucketsSealed   *prometheus.CounterVec
	predictions     *prometheus.CounterVec
	probabilityUp   *prometheus.GaugeVec
	retrains        *prometheus.CounterVec
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	trades          *prometheus.CounterVec
	tradeVolume     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	portfolioValue  *prometheus.GaugeVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_signals_ingested_total",
				Help: "Total scored signal items accepted into the aggregator",
			},
			[]string{"asset"},
		),
		signalsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_signals_dropped_total",
				Help: "Total signal items dropped before aggregation",
			},
			[]string{"reason"},
		),
		bucketsSealed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_buckets_sealed_total",
				Help: "Total narrative buckets sealed",
			},
			[]string{"asset"},
		),
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_predictions_total",
				Help: "Total predictions served",
			},
			[]string{"asset"},
		),
		probabilityUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "narratrade_probability_up",
				Help: "Last up-probability per asset",
			},
			[]string{"asset"},
		),
		retrains: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_model_retrains_total",
				Help: "Total model retrains",
			},
			[]string{"asset", "family"},
		),
		cycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_rebalance_cycles_total",
				Help: "Total rebalance cycles by outcome",
			},
			[]string{"owner", "outcome"},
		),
		cycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "narratrade_rebalance_cycle_seconds",
				Help:    "Rebalance cycle duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"owner"},
		),
		trades: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_trades_total",
				Help: "Total trade intents by outcome",
			},
			[]string{"owner", "outcome"},
		),
		tradeVolume: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_trade_volume_usd_total",
				Help: "Total USD notional moved by outcome",
			},
			[]string{"owner", "outcome"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "narratrade_breaker_state",
				Help: "Circuit breaker state per service (0 closed, 1 open, 2 half-open)",
			},
			[]string{"service"},
		),
		portfolioValue: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "narratrade_portfolio_value_usd",
				Help: "Last observed portfolio value per owner",
			},
			[]string{"owner"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "narratrade_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "narratrade_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSignalIngested(asset string) {
	r.signalsIngested.WithLabelValues(asset).Inc()
}

func (r *Recorder) RecordSignalDropped(reason string) {
	r.signalsDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordBucketSealed(asset string) {
	r.bucketsSealed.WithLabelValues(asset).Inc()
}

func (r *Recorder) RecordPrediction(asset string, probabilityUp float64) {
	r.predictions.WithLabelValues(asset).Inc()
	r.probabilityUp.WithLabelValues(asset).Set(probabilityUp)
}

func (r *Recorder) RecordRetrain(asset, family string) {
	r.retrains.WithLabelValues(asset, family).Inc()
}

func (r *Recorder) RecordCycle(owner, outcome string, seconds float64) {
	r.cycles.WithLabelValues(owner, outcome).Inc()
	if seconds > 0 {
		r.cycleDuration.WithLabelValues(owner).Observe(seconds)
	}
}

func (r *Recorder) RecordTrade(owner, outcome string, amountUSD float64) {
	r.trades.WithLabelValues(owner, outcome).Inc()
	r.tradeVolume.WithLabelValues(owner, outcome).Add(amountUSD)
}

func (r *Recorder) RecordBreakerState(service string, state int) {
	r.breakerState.WithLabelValues(service).Set(float64(state))
}

func (r *Recorder) RecordPortfolioValue(owner string, valueUSD float64) {
	r.portfolioValue.WithLabelValues(owner).Set(valueUSD)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
