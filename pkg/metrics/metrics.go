package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Poller metrics
	PollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_poll_ticks_total",
			Help: "Total number of poll ticks by result",
		},
		[]string{"result"},
	)

	PollTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_poll_tick_duration_seconds",
			Help:    "Time taken by one full poll tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Probe metrics
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_probe_duration_seconds",
			Help:    "Duration of node sub-checks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node", "check"},
	)

	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_probe_failures_total",
			Help: "Total number of failed node sub-checks",
		},
		[]string{"node", "check"},
	)

	NodeCheckUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_check_up",
			Help: "Result of the last node sub-check (1 = passing, 0 = failing)",
		},
		[]string{"node", "check"},
	)

	NodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_state",
			Help: "Logical node state (1 for the current state, 0 otherwise)",
		},
		[]string{"node", "state"},
	)

	// VIP metrics
	VIPLocation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_vip_location",
			Help: "Where the virtual IP was last located (1 for the current location)",
		},
		[]string{"location"},
	)

	VIPLookupAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_vip_lookup_attempts",
			Help:    "Neighbor-table attempts needed to locate the virtual IP",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	DHCPLeases = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_dhcp_leases",
			Help: "Active DHCP leases reported by the current master",
		},
	)

	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Total number of events recorded by category and kind",
		},
		[]string{"category", "kind"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_total",
			Help: "Total number of notification sends by channel and result",
		},
		[]string{"channel", "result"},
	)

	NotificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_notification_duration_seconds",
			Help:    "Notification delivery duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	NotificationsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_suppressed_total",
			Help: "Total number of events not sent by reason",
		},
		[]string{"reason"},
	)

	// Storage metrics
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_storage_errors_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"operation"},
	)

	SnapshotsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_snapshots_stored",
			Help: "Number of health snapshots currently stored",
		},
	)

	EventsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_events_stored",
			Help: "Number of events currently stored",
		},
	)

	DatabaseSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_database_size_bytes",
			Help: "Size of the database file in bytes",
		},
	)

	// Retention metrics
	RetentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_retention_runs_total",
			Help: "Total number of retention passes by result",
		},
		[]string{"result"},
	)

	RetentionDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_retention_deleted_total",
			Help: "Total number of rows removed by retention",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_test_notifications_rate_limited_total",
			Help: "Total number of test notification requests rejected by the rate limiter",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PollTicksTotal)
	prometheus.MustRegister(PollTickDuration)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ProbeFailuresTotal)
	prometheus.MustRegister(NodeCheckUp)
	prometheus.MustRegister(NodeState)
	prometheus.MustRegister(VIPLocation)
	prometheus.MustRegister(VIPLookupAttempts)
	prometheus.MustRegister(DHCPLeases)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationDuration)
	prometheus.MustRegister(NotificationsSuppressed)
	prometheus.MustRegister(StorageOpDuration)
	prometheus.MustRegister(StorageErrorsTotal)
	prometheus.MustRegister(SnapshotsStored)
	prometheus.MustRegister(EventsStored)
	prometheus.MustRegister(DatabaseSizeBytes)
	prometheus.MustRegister(RetentionRunsTotal)
	prometheus.MustRegister(RetentionDeletedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RateLimitedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetOneHot sets the gauge for current to 1 and every other label value to 0
func SetOneHot(g *prometheus.GaugeVec, prefix []string, current string, all []string) {
	for _, v := range all {
		labels := append(append([]string{}, prefix...), v)
		if v == current {
			g.WithLabelValues(labels...).Set(1)
		} else {
			g.WithLabelValues(labels...).Set(0)
		}
	}
}

// BoolGauge converts b to a gauge value
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
