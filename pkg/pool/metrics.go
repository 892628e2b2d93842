package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// channelsOpen counts idle + leased + dialing Channels per pool.
	channelsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mssqlpool_channels_open",
			Help: "Open channels per pool, including dials in flight",
		},
		[]string{"pool"},
	)

	channelsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mssqlpool_channels_idle",
			Help: "Idle channels per pool",
		},
		[]string{"pool"},
	)

	channelsLeased = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mssqlpool_channels_leased",
			Help: "Leased channels per pool",
		},
		[]string{"pool"},
	)

	waitersGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mssqlpool_waiters",
			Help: "Callers queued in Acquire",
		},
		[]string{"pool"},
	)

	acquiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_acquired_total",
			Help: "Total number of leases granted",
		},
		[]string{"pool"},
	)

	createdTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_channels_created_total",
			Help: "Total number of channels dialed successfully",
		},
		[]string{"pool"},
	)

	// discardedTotal is labelled by reason: broken, expired, ping, closed.
	discardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_channels_discarded_total",
			Help: "Total number of channels closed by the pool",
		},
		[]string{"pool", "reason"},
	)

	dialErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_dial_errors_total",
			Help: "Total number of failed dials",
		},
		[]string{"pool"},
	)

	timeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_acquire_timeouts_total",
			Help: "Total number of Acquire calls that hit connection_timeout",
		},
		[]string{"pool"},
	)

	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssqlpool_acquire_exhausted_total",
			Help: "Total number of Acquire calls rejected because the pool and its queue were full",
		},
		[]string{"pool"},
	)

	acquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mssqlpool_acquire_wait_seconds",
			Help:    "Time spent in Acquire until a lease was granted",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"pool"},
	)
)

// metrics caches the label-bound collectors of one pool.
type metrics struct {
	open, idle, leased, waiting                prometheus.Gauge
	acquired, created, dialErrors, timeouts    prometheus.Counter
	exhausted                                  prometheus.Counter
	discardBroken, discardExpired, discardPing prometheus.Counter
	discardClosed                              prometheus.Counter
	wait                                       prometheus.Observer
}

func newMetrics(pool string) *metrics {
	return &metrics{
		open:           channelsOpen.WithLabelValues(pool),
		idle:           channelsIdle.WithLabelValues(pool),
		leased:         channelsLeased.WithLabelValues(pool),
		waiting:        waitersGauge.WithLabelValues(pool),
		acquired:       acquiredTotal.WithLabelValues(pool),
		created:        createdTotal.WithLabelValues(pool),
		dialErrors:     dialErrorsTotal.WithLabelValues(pool),
		timeouts:       timeoutsTotal.WithLabelValues(pool),
		exhausted:      exhaustedTotal.WithLabelValues(pool),
		discardBroken:  discardedTotal.WithLabelValues(pool, "broken"),
		discardExpired: discardedTotal.WithLabelValues(pool, "expired"),
		discardPing:    discardedTotal.WithLabelValues(pool, "ping"),
		discardClosed:  discardedTotal.WithLabelValues(pool, "closed"),
		wait:           acquireWait.WithLabelValues(pool),
	}
}
