package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gameroom"

var (
	ActiveRooms = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Number of live rooms by game type",
	}, []string{"game"})

	Settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Settlements executed by outcome",
	}, []string{"outcome"})

	SettlementReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_replays_total",
		Help:      "Settle calls answered from an existing settlement record",
	})

	SettlementFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_failures_total",
		Help:      "Settle calls that failed and were left for the sweep",
	})

	ChargeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charge_failures_total",
		Help:      "Stake collections rolled back",
	})

	Forfeits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forfeits_total",
		Help:      "Forfeits by cause",
	}, []string{"cause"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one deadline sweep",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(
		ActiveRooms,
		Settlements,
		SettlementReplays,
		SettlementFailures,
		ChargeFailures,
		Forfeits,
		SweepDuration,
	)
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
